package domain

import (
	"errors"
	"time"
)

var ErrChatEntryShape = errors.New("chat entry must carry exactly one of message or file")

// FileAttachment carries a file inline as a data URI.
type FileAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

type ChatEntry struct {
	From      UserID          `json:"from"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	File      *FileAttachment `json:"file,omitempty"`
}

func (e ChatEntry) Validate() error {
	if (e.Message == "") == (e.File == nil) {
		return ErrChatEntryShape
	}
	return nil
}
