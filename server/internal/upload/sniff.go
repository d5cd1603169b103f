package upload

import (
	"bytes"
	"errors"
	"io"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLen is how many leading bytes are inspected to determine the type.
const SniffLen = 2048

// allowedTypes are the only content types accepted for upload.
var allowedTypes = []string{"image/jpeg", "image/png"}

// Sniff reads up to SniffLen bytes from r and detects the content type from
// its magic bytes. It returns the detected type and a reader that yields the
// full original stream, including the bytes consumed for detection.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, SniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]

	return detect(head), io.MultiReader(bytes.NewReader(head), r), nil
}

// detect returns the most specific detected type, or its nearest allowed
// ancestor so that subtypes like APNG report as "image/png". Parameters such
// as "; charset=utf-8" are dropped.
func detect(head []byte) string {
	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		if Allowed(m.String()) {
			return m.String()
		}
	}
	if base, _, err := mime.ParseMediaType(mt.String()); err == nil {
		return base
	}
	return mt.String()
}

// Allowed reports whether the detected type is an accepted image type.
// Parameters such as "; charset=" never match.
func Allowed(detected string) bool {
	for _, t := range allowedTypes {
		if detected == t {
			return true
		}
	}
	return false
}
