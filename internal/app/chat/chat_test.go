package chat

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
	gifHeader = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
)

func TestTranscript(t *testing.T) {
	var tr Transcript
	now := time.Now()

	require.NoError(t, tr.Append(domain.ChatEntry{From: "u1", Timestamp: now, Message: "hi"}))
	require.NoError(t, tr.Append(domain.ChatEntry{From: "u2", Timestamp: now, File: &domain.FileAttachment{Name: "a.png"}}))
	assert.ErrorIs(t, tr.Append(domain.ChatEntry{From: "u2"}), domain.ErrChatEntryShape)
	assert.Equal(t, 2, tr.Len())

	entries := tr.Entries()
	entries[0].Message = "mutated"
	assert.Equal(t, "hi", tr.Entries()[0].Message)

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Entries())
}

func TestCheckMessage(t *testing.T) {
	msg, err := CheckMessage("  hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)

	_, err = CheckMessage(" \t\n")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestNewAttachment(t *testing.T) {
	tests := map[string]struct {
		name string
		data []byte
		mime string
		err  error
	}{
		"png":       {"dir/pic.png", pngHeader, "image/png", nil},
		"pdf":       {"doc.pdf", pdfHeader, "application/pdf", nil},
		"gif":       {"anim.gif", gifHeader, "image/gif", nil},
		"text":      {"notes.png", []byte("just some text"), "", ErrFileType},
		"empty":     {"x.png", nil, "", ErrEmptyFile},
		"too large": {"big.png", append(bytes.Clone(pngHeader), make([]byte, MaxFileSize)...), "", ErrFileTooLarge},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			att, err := NewAttachment(tt.name, tt.data)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mime, att.Type)
			assert.Equal(t, int64(len(tt.data)), att.Size)
			assert.NotContains(t, att.Name, "/")
			assert.True(t, strings.HasPrefix(att.Data, "data:"+tt.mime+";base64,"))

			raw, err := DecodeAttachment(att)
			require.NoError(t, err)
			assert.Equal(t, tt.data, raw)
		})
	}
}

func TestDecodeAttachmentRejects(t *testing.T) {
	for _, data := range []string{"", "http://x", "data:image/png,abc", "data:image/png;base64,@@@"} {
		_, err := DecodeAttachment(domain.FileAttachment{Data: data})
		assert.ErrorIs(t, err, ErrBadDataURI, data)
	}
}
