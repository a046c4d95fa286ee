package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// HeaderLength is the fixed size of the ASCII decimal length prefix.
	HeaderLength = 4
	// MaxBodyLength caps a single message body. The header cannot encode
	// more than four decimal digits anyway.
	MaxBodyLength = 4096
)

var (
	ErrHeaderMalformed = errors.New("protocol: malformed frame header")
	ErrBodyTooLarge    = errors.New("protocol: body exceeds maximum length")
	ErrBodyNotUTF8     = errors.New("protocol: body is not valid UTF-8")
)

// EncodeHeader renders the body length as a right-aligned, space-padded
// four character ASCII decimal, e.g. "  42".
func EncodeHeader(n int) ([]byte, error) {
	if n < 0 || n > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}
	return []byte(fmt.Sprintf("%4d", n)), nil
}

// ParseHeader decodes a four byte length prefix produced by EncodeHeader.
func ParseHeader(header []byte) (int, error) {
	if len(header) != HeaderLength {
		return 0, ErrHeaderMalformed
	}
	s := strings.TrimSpace(string(header))
	if s == "" {
		return 0, ErrHeaderMalformed
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrHeaderMalformed
	}
	if n > MaxBodyLength {
		return 0, ErrBodyTooLarge
	}
	return n, nil
}

// ReadMessage reads one length-prefixed message from r. The returned slice
// holds only the body. Bodies must be valid UTF-8.
func ReadMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		return nil, ErrBodyNotUTF8
	}
	return body, nil
}

// WriteMessage writes the header and body as a single frame.
func WriteMessage(w io.Writer, body []byte) error {
	header, err := EncodeHeader(len(body))
	if err != nil {
		return err
	}
	frame := make([]byte, 0, HeaderLength+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	_, err = w.Write(frame)
	return err
}
