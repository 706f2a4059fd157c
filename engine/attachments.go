package engine

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/stepmesh/core"
)

// Attachment is a file sent along with a user message.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// AttachmentOptions bounds attachment preprocessing.
type AttachmentOptions struct {
	// MaxBytes is the largest accepted attachment.
	MaxBytes int64
	// AllowedMimes lists accepted MIME types; entries ending in "/" match a
	// whole family.
	AllowedMimes []string
}

// DefaultAttachmentOptions accepts images, text and JSON up to 10 MiB.
func DefaultAttachmentOptions() AttachmentOptions {
	return AttachmentOptions{
		MaxBytes:     10 << 20,
		AllowedMimes: []string{"image/", "text/", "application/json"},
	}
}

// AttachmentError aggregates the problems found in a batch of attachments.
type AttachmentError struct {
	Problems []string
}

func (e *AttachmentError) Error() string {
	var b strings.Builder
	b.WriteString("error occurred during attachment processing:")
	for _, p := range e.Problems {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

// PrepareAttachments converts attachments into content parts: images become
// image parts and text-like files become text parts. Any invalid attachment
// fails the whole batch with an *AttachmentError listing every problem.
func PrepareAttachments(attachments []Attachment, opts AttachmentOptions) ([]core.Part, error) {
	var (
		parts    []core.Part
		problems []string
	)
	for _, a := range attachments {
		part, err := prepareAttachment(a, opts)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		parts = append(parts, part)
	}
	if len(problems) > 0 {
		return nil, &AttachmentError{Problems: problems}
	}
	return parts, nil
}

func prepareAttachment(a Attachment, opts AttachmentOptions) (core.Part, error) {
	name := a.Name
	if name == "" {
		name = "attachment"
	}
	mime := strings.ToLower(strings.TrimSpace(a.MimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case len(a.Data) == 0:
		return nil, fmt.Errorf("%s: file is empty", name)
	case opts.MaxBytes > 0 && int64(len(a.Data)) > opts.MaxBytes:
		return nil, fmt.Errorf("%s: file size %d exceeds limit of %d bytes", name, len(a.Data), opts.MaxBytes)
	case !mimeAllowed(mime, opts.AllowedMimes):
		return nil, fmt.Errorf("%s: unsupported file type %s", name, a.MimeType)
	}

	if strings.HasPrefix(mime, "image/") {
		return core.ImagePart{Data: base64.StdEncoding.EncodeToString(a.Data), MimeType: mime}, nil
	}
	if !utf8.Valid(a.Data) {
		return nil, fmt.Errorf("%s: file is not valid UTF-8 text", name)
	}
	return core.TextPart{Text: fmt.Sprintf("[%s]\n%s", name, a.Data)}, nil
}

func mimeAllowed(mime string, allowed []string) bool {
	if mime == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(a)
		if strings.HasSuffix(a, "/") && strings.HasPrefix(mime, a) {
			return true
		}
		if mime == a {
			return true
		}
	}
	return false
}

// MergeAttachments adds parts to the last user message of conversation, or
// appends a new user message when the conversation does not end with one.
func MergeAttachments(conversation []core.Content, parts []core.Part) []core.Content {
	if len(parts) == 0 {
		return conversation
	}
	out := core.CloneContents(conversation)
	if n := len(out); n > 0 && out[n-1].Role == core.RoleUser {
		out[n-1].Parts = append(out[n-1].Parts, parts...)
		return out
	}
	return append(out, core.Content{Role: core.RoleUser, Parts: append([]core.Part(nil), parts...)})
}
