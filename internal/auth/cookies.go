// Package auth persists browser cookies into short-lived Netscape-format
// cookie files that yt-dlp can consume. Each file is scoped to one task or
// one info lookup and is deleted as soon as the owning call finishes, so
// credential material never outlives the work it was captured for.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	cookieFilePrefix = "cookies_"
	cookieFileSuffix = ".txt"
	cookieFileHeader = "# Netscape HTTP Cookie File\n# Written by clipdesk; deleted when the owning task finishes.\n\n"
	cookieFileMode   = 0600
	cookieDirMode    = 0700
)

// Cookie is one cookie record as sent by the browser extension.
type Cookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	ExpirationDate float64 `json:"expirationDate"`
}

// Store writes and removes per-task cookie files under a single directory.
type Store struct {
	dir string
	log *logrus.Entry
}

// NewStore creates the cookie directory if needed.
func NewStore(dir string, logger *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, cookieDirMode); err != nil {
		return nil, fmt.Errorf("create cookie dir: %w", err)
	}
	return &Store{
		dir: dir,
		log: logger.WithField("component", "auth"),
	}, nil
}

// Dir returns the directory cookie files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the cookies to a fresh Netscape-format file and returns its
// path. The fallback domain is used for cookies that carry none of their own.
func (s *Store) Save(cookies []Cookie, domain string) (string, error) {
	if len(cookies) == 0 {
		return "", fmt.Errorf("no cookies to save")
	}

	name := cookieFilePrefix + sanitizeDomain(domain) + "_" + uuid.NewString() + cookieFileSuffix
	path := filepath.Join(s.dir, name)

	var b strings.Builder
	b.WriteString(cookieFileHeader)
	for _, c := range cookies {
		b.WriteString(formatCookieLine(c, domain))
	}

	if err := os.WriteFile(path, []byte(b.String()), cookieFileMode); err != nil {
		return "", fmt.Errorf("write cookie file: %w", err)
	}

	s.log.WithField("domain", domain).Debugf("saved %d cookies to %s", len(cookies), name)
	return path, nil
}

// Remove deletes a cookie file previously returned by Save. Paths outside
// the store directory are refused. Missing files are not an error.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		s.log.Warnf("refusing to remove cookie file outside store: %s", path)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("failed to remove cookie file %s: %v", path, err)
	}
}

// Sweep deletes cookie files older than maxAge and returns how many were
// removed. Sweep(0) clears everything, which is what shutdown does.
func (s *Store) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), cookieFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Debugf("swept %d stale cookie files", removed)
	}
	return removed
}

// formatCookieLine renders one cookie in the Netscape cookies.txt layout:
// domain, subdomain flag, path, secure flag, expiry, name, value.
func formatCookieLine(c Cookie, fallbackDomain string) string {
	domain := c.Domain
	if domain == "" {
		domain = fallbackDomain
	}
	includeSubdomains := "FALSE"
	if strings.HasPrefix(domain, ".") {
		includeSubdomains = "TRUE"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	secure := "FALSE"
	if c.Secure {
		secure = "TRUE"
	}
	expiry := int64(c.ExpirationDate)
	if expiry < 0 {
		expiry = 0
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
		domain, includeSubdomains, path, secure, expiry, c.Name, c.Value)
}

func sanitizeDomain(domain string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, domain)
}
