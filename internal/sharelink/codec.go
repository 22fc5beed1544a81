// Package sharelink turns Markdown buffers into self-contained share links.
//
// A token is the buffer DEFLATE-compressed at maximum ratio and encoded with
// the unpadded URL-safe base64 alphabet, so it never contains '+', '/' or '='.
// Links carry the token in the fragment: <origin>/#share:<token>.
package sharelink

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"

	"github.com/starford/markpad/internal/apperr"
)

// maxDecodedBytes bounds inflation of untrusted tokens.
const maxDecodedBytes = 16 << 20

var tokenEncoding = base64.RawURLEncoding

// DecodeError reports a malformed or truncated token.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sharelink: decode token: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{apperr.ErrDecodeFailure, e.Err}
}

// Encode compresses text and returns its URL-safe token.
func Encode(text string) string {
	var buf bytes.Buffer
	// NewWriter only fails on an invalid level.
	w, _ := flate.NewWriter(&buf, flate.BestCompression)
	_, _ = w.Write([]byte(text))
	_ = w.Close()
	return tokenEncoding.EncodeToString(buf.Bytes())
}

// Decode reverses Encode.
func Decode(token string) (string, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxDecodedBytes+1))
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	if len(data) > maxDecodedBytes {
		return "", &DecodeError{Err: fmt.Errorf("decoded content exceeds %d bytes", maxDecodedBytes)}
	}
	if !utf8.Valid(data) {
		return "", &DecodeError{Err: fmt.Errorf("decoded content is not valid UTF-8")}
	}
	return string(data), nil
}
