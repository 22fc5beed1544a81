package sharelink

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/starford/markpad/internal/apperr"
)

const (
	DefaultMarker         = "share"
	DefaultMaxTokenLength = 10000
	DefaultBaseURL        = "http://localhost:8080"
)

// ContentTooLargeError is returned by BuildShareLink when the encoded token
// exceeds the codec's ceiling.
type ContentTooLargeError struct {
	Length int
	Max    int
}

func (e *ContentTooLargeError) Error() string {
	return fmt.Sprintf("content too large to share: encoded length %d exceeds maximum %d", e.Length, e.Max)
}

func (e *ContentTooLargeError) Unwrap() error {
	return apperr.ErrContentTooLarge
}

// Codec builds and parses share links for one origin.
type Codec struct {
	BaseURL        string
	Marker         string
	MaxTokenLength int
	Logger         *slog.Logger
}

// Default returns a Codec with the package defaults.
func Default() Codec {
	return Codec{
		BaseURL:        DefaultBaseURL,
		Marker:         DefaultMarker,
		MaxTokenLength: DefaultMaxTokenLength,
	}
}

func (c Codec) marker() string {
	if c.Marker == "" {
		return DefaultMarker
	}
	return c.Marker
}

func (c Codec) maxLen() int {
	if c.MaxTokenLength <= 0 {
		return DefaultMaxTokenLength
	}
	return c.MaxTokenLength
}

func (c Codec) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// BuildShareLink encodes text and embeds the token in the link fragment.
func (c Codec) BuildShareLink(text string) (string, error) {
	token := Encode(text)
	if len(token) > c.maxLen() {
		return "", &ContentTooLargeError{Length: len(token), Max: c.maxLen()}
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/#" + c.marker() + ":" + token, nil
}

// ExtractFromURL returns the buffer carried by rawURL, if any. The fragment is
// checked first, then the path (…/share/<token> or …/share:<token>). Absent
// markers and corrupt tokens both report ok=false.
func (c Codec) ExtractFromURL(rawURL string) (text string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		c.logger().Debug("sharelink: unparseable url", slog.String("error", err.Error()))
		return "", false
	}

	token, found := c.tokenFromFragment(u.Fragment)
	if !found {
		token, found = c.tokenFromPath(u.Path)
	}
	if !found {
		return "", false
	}

	text, err = Decode(token)
	if err != nil {
		c.logger().Debug("sharelink: corrupt token", slog.String("error", err.Error()))
		return "", false
	}
	return text, true
}

func (c Codec) tokenFromFragment(fragment string) (string, bool) {
	prefix := c.marker() + ":"
	if !strings.HasPrefix(fragment, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(fragment, prefix)
	return token, token != ""
}

func (c Codec) tokenFromPath(path string) (string, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	prefix := c.marker() + ":"
	for i, seg := range segments {
		switch {
		case seg == c.marker() && i+1 < len(segments) && segments[i+1] != "":
			return segments[i+1], true
		case strings.HasPrefix(seg, prefix) && len(seg) > len(prefix):
			return strings.TrimPrefix(seg, prefix), true
		}
	}
	return "", false
}
