package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResponse(t *testing.T) {
	header := http.Header{
		"Content-Type":      []string{"application/json; charset=utf-8"},
		"Transfer-Encoding": []string{"chunked"},
		"Link":              []string{`<https://api.github.com/orgs/acme/repos?page=2>; rel="next"`},
		"Etag":              []string{`W/"abc"`},
		"Cache-Control":     []string{"private, max-age=60"},
	}

	entry := NewResponse(200, "200 OK", header, []byte(`[]`))

	assert.Equal(t, Status{Code: 200, Reason: "OK"}, entry.Status)
	assert.Equal(t, []Header{
		{Name: "Cache-Control", Value: "private, max-age=60"},
		{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		{Name: "Etag", Value: `W/"abc"`},
	}, entry.Headers)
	assert.Empty(t, entry.Header("Link"))
	assert.Empty(t, entry.Header("Transfer-Encoding"))
	assert.False(t, entry.Compressed)
}

func TestStatusReason(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		status string
		want   string
	}{
		{name: "standard status line", code: 200, status: "200 OK", want: "OK"},
		{name: "custom reason", code: 404, status: "404 Not Here", want: "Not Here"},
		{name: "empty status", code: 502, status: "", want: "Bad Gateway"},
		{name: "code only", code: 304, status: "304", want: "Not Modified"},
		{name: "bare reason", code: 200, status: "OK", want: "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusReason(tt.code, tt.status))
		})
	}
}
