package websocket

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "example.com", true},

		{"http://localhost", "http://localhost", "localhost", true},
		{"http://localhost:3000", "http://localhost:3000", "localhost:8787", true},
		{"https://127.0.0.1", "https://127.0.0.1", "127.0.0.1", true},

		{"same origin", "https://example.com", "example.com", true},
		{"same origin with port", "https://example.com:443", "example.com:8787", true},
		{"ipv6 same origin", "http://[fd00::1]:3000", "[fd00::1]:8787", true},

		{"cross origin", "https://evil.com", "example.com", false},
		{"cross origin similar", "https://notexample.com", "example.com", false},
		{"malformed origin", "not-a-url", "example.com", false},
		{"ipv6 loopback", "http://[::1]:3000", "example.com:8787", true},
		{"ipv6 cross origin", "http://[fd00::2]:3000", "[fd00::1]:8787", false},
		{"localhost lookalike", "http://localhost.evil.com", "example.com", false},
		{"case insensitive host", "https://Example.COM", "example.com", true},
		{"empty host rejects", "https://example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{
				Header: http.Header{},
				Host:   tt.host,
				URL:    &url.URL{Host: tt.host},
			}
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkWebSocketOrigin(r), "origin=%q host=%q", tt.origin, tt.host)
		})
	}
}
