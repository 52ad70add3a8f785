package pagination

import (
	"net/http"
	"strings"
)

// NextLink returns the target of the rel="next" relation in the Link headers,
// or "" when there is none. Multiple Link header lines are treated as one list.
func NextLink(header http.Header) string {
	return FindRel(strings.Join(header.Values("Link"), ", "), "next")
}

// FindRel returns the URI reference of the first link in an RFC 8288 Link
// header value whose rel parameter contains rel (case-insensitive).
//
// Example input:
//
//	<https://api.github.com/orgs/acme/repos?page=2>; rel="next", <...?page=9>; rel="last"
func FindRel(value, rel string) string {
	rest := value
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			return ""
		}
		end := strings.IndexByte(rest[start:], '>')
		if end < 0 {
			return ""
		}
		end += start

		target := strings.TrimSpace(rest[start+1 : end])
		rest = rest[end+1:]

		// parameters run until the next link target
		params := rest
		if next := strings.IndexByte(rest, '<'); next >= 0 {
			params = rest[:next]
		}

		if hasRel(params, rel) {
			return target
		}
	}
}

func hasRel(params, rel string) bool {
	for _, param := range strings.Split(params, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "rel") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(value), ",")), `"`)
		for _, v := range strings.Fields(value) {
			if strings.EqualFold(v, rel) {
				return true
			}
		}
	}
	return false
}
