package cache

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// strippedHeaders are never cached: the serving side picks its own transfer
// encoding, and pagination links are meaningless once pages are merged.
var strippedHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Link":              true,
}

// NewResponse builds an uncompressed CachedResponse from an origin status,
// header set and body. ValidUntil is left for the caller to compute.
func NewResponse(statusCode int, status string, header http.Header, body []byte) *CachedResponse {
	return &CachedResponse{
		Headers: FilterHeaders(header),
		Status: Status{
			Code:   statusCode,
			Reason: StatusReason(statusCode, status),
		},
		Content: body,
	}
}

// FilterHeaders flattens an http.Header into an ordered list, dropping
// Transfer-Encoding and Link. Names are sorted so the order is deterministic.
func FilterHeaders(header http.Header) []Header {
	names := make([]string, 0, len(header))
	for name := range header {
		if strippedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Header, 0, len(names))
	for _, name := range names {
		for _, value := range header[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}

// StatusReason extracts the reason phrase from an http.Response Status
// string such as "200 OK". Falls back to the standard text for the code.
func StatusReason(statusCode int, status string) string {
	if reason, ok := strings.CutPrefix(status, strconv.Itoa(statusCode)+" "); ok {
		return reason
	}
	if status != "" && !strings.HasPrefix(status, strconv.Itoa(statusCode)) {
		return status
	}
	return http.StatusText(statusCode)
}
