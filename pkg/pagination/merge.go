package pagination

import (
	"bytes"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrNotArray is returned when a paginated body is not a top-level JSON array.
var ErrNotArray = errors.New("paginated body is not a top-level JSON array")

// IsArray reports whether body is valid JSON whose top-level value is an array.
func IsArray(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return false
	}
	return gjson.ValidBytes(trimmed)
}

// Merge appends the elements of page to the accumulated array body acc.
// acc must already have been checked with IsArray; page is validated here.
// Empty arrays on either side are absorbed so the result never contains a
// dangling separator.
func Merge(acc, page []byte) ([]byte, error) {
	acc = bytes.TrimSpace(acc)
	page = bytes.TrimSpace(page)

	if len(acc) < 2 || acc[0] != '[' || acc[len(acc)-1] != ']' {
		return nil, ErrNotArray
	}
	if !IsArray(page) {
		return nil, ErrNotArray
	}

	if isEmptyArray(page) {
		return acc, nil
	}
	if isEmptyArray(acc) {
		return page, nil
	}

	out := make([]byte, 0, len(acc)+len(page))
	out = append(out, acc[:len(acc)-1]...)
	out = append(out, ", "...)
	out = append(out, page[1:]...)
	return out, nil
}

func isEmptyArray(body []byte) bool {
	return len(bytes.TrimSpace(body[1:len(body)-1])) == 0
}
