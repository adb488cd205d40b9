package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "gzip, deflate, br"

// decoders map a Content-Encoding token to a reader constructor.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	"gzip": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	"deflate": func(r io.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	"br": func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
}

// decodeBody replaces resp.Body with a decoding reader when the mirror
// compressed the response. Setting Accept-Encoding ourselves turns off
// net/http's own gzip handling, so every encoding is handled here.
// Unknown encodings are passed through untouched.
func decodeBody(resp *http.Response, logger *slog.Logger) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))
	if encoding == "" || encoding == "identity" {
		return
	}

	newReader, ok := decoders[encoding]
	if !ok {
		logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", encoding))
		return
	}

	r, err := newReader(resp.Body)
	if err != nil {
		logger.Warn("failed to decode response, returning raw body",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()),
		)
		return
	}

	resp.Body = &decodedBody{Reader: r, raw: resp.Body}
	resp.Header.Del(HeaderContentEncoding)
	resp.ContentLength = -1
	resp.Uncompressed = true
}

type decodedBody struct {
	io.Reader
	raw io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.raw.Close()
}

var sensitiveParams = []string{"password", "token", "api_key", "key", "secret", "auth", "signature"}

// redactURL masks userinfo and credential-bearing query parameters so that a
// mirror URL can be logged.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	redacted := *u
	if redacted.User != nil {
		redacted.User = url.User("***")
	}

	query := redacted.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	redacted.RawQuery = query.Encode()
	return redacted.String()
}
