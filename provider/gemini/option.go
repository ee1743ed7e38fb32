package gemini

import (
	"net/http"
	"strings"
)

// Option configures a Gemini adapter.
type Option func(*Gemini)

// WithBaseURL overrides the API root (default the public v1beta endpoint).
func WithBaseURL(u string) Option {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client. Its Timeout bounds each call.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.httpClient = c }
}
