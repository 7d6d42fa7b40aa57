// Package model defines the download task, its status state machine,
// progress records, fetch results and the error taxonomy shared by the
// queue manager, the fetcher and the HTTP layer.
package model
