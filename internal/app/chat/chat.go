// Package chat holds the per-call transcript and the file attachment rules of
// the chat side-channel.
//
// Local entries are echoed into the transcript when sent, without waiting for
// an acknowledgement, and inbound entries are appended as they arrive. The two
// sides of a call may therefore order the same entries differently.
package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

// MaxFileSize caps attachments at 5 MiB.
const MaxFileSize = 5 << 20

var (
	ErrEmptyMessage = errors.New("empty chat message")
	ErrEmptyFile    = errors.New("empty file")
	ErrFileTooLarge = errors.New("file exceeds 5 MiB")
	ErrFileType     = errors.New("file type not allowed")
	ErrBadDataURI   = errors.New("malformed data uri")
)

// AllowedTypes are the attachment MIME types accepted at the sending side.
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
}

// Transcript is the append-only chat log of the current call.
// Not safe for concurrent use.
type Transcript struct {
	entries []domain.ChatEntry
}

func (t *Transcript) Append(e domain.ChatEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *Transcript) Entries() []domain.ChatEntry {
	return slices.Clone(t.entries)
}

func (t *Transcript) Len() int { return len(t.entries) }

func (t *Transcript) Clear() { t.entries = nil }

// CheckMessage trims and validates a text message.
func CheckMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return text, nil
}

// NewAttachment validates data and encodes it as a data URI attachment.
// The type is detected from content, not from the name.
func NewAttachment(name string, data []byte) (domain.FileAttachment, error) {
	if len(data) == 0 {
		return domain.FileAttachment{}, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return domain.FileAttachment{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), AllowedTypes...) {
		return domain.FileAttachment{}, fmt.Errorf("%w: %s", ErrFileType, mt.String())
	}
	return domain.FileAttachment{
		Name: filepath.Base(name),
		Type: mt.String(),
		Size: int64(len(data)),
		Data: "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DecodeAttachment returns the raw bytes of a base64 data URI attachment.
func DecodeAttachment(f domain.FileAttachment) ([]byte, error) {
	rest, ok := strings.CutPrefix(f.Data, "data:")
	if !ok {
		return nil, ErrBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDataURI, err)
	}
	return data, nil
}
