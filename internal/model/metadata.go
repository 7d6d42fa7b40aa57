package model

// Metadata describes a video without downloading it.
type Metadata struct {
	Title       string       `json:"title"`
	Duration    float64      `json:"duration"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	Description string       `json:"description,omitempty"`
	Uploader    string       `json:"uploader,omitempty"`
	Formats     []FormatInfo `json:"formats"`
}

// FormatInfo is one downloadable encoding of a video.
type FormatInfo struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Filesize   int64  `json:"filesize,omitempty"`
	FormatNote string `json:"format_note,omitempty"`
}
