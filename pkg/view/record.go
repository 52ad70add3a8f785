package view

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned for top-N requests of the wrong shape
	ErrNotFound = errors.New("view not found")

	// ErrMalformed is returned when the listing or the snapshot cannot be read
	ErrMalformed = errors.New("malformed view data")
)

// DefaultIdentityField names the field that identifies a listing element.
const DefaultIdentityField = "full_name"

var topRequestPattern = regexp.MustCompile(`^top/(\d+)/([[:alnum:][:punct:]]+)$`)

// Spec configures one view.
type Spec struct {
	// Field is the gjson path of the source value in each element
	Field string `yaml:"field" json:"field"`

	// Converter turns the source value into an int64
	Converter Converter `yaml:"converter" json:"converter"`

	// Path is the view name; defaults to Field
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Name returns the name the view is queried by.
func (s Spec) Name() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Field
}

// Record is one listing element reduced to its view values. A view name
// missing from Fields means the record lacks that field.
type Record struct {
	Identity string           `json:"identity"`
	Fields   map[string]int64 `json:"fields"`
}

// Entry is one ranked result. It marshals to the pair [identity, value].
type Entry struct {
	Identity string
	Value    *int64
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Identity, e.Value})
}

// BuildRecords converts a JSON array of objects into records. Anything other
// than an array of objects is rejected with ErrMalformed. Individual values
// never fail: absent or malformed ones convert to 0.
func BuildRecords(body []byte, identityField string, specs []Spec) ([]Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: listing is not an array", ErrMalformed)
	}
	if identityField == "" {
		identityField = DefaultIdentityField
	}

	var (
		records []Record
		err     error
	)
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			err = fmt.Errorf("%w: element %d is not an object", ErrMalformed, len(records))
			return false
		}

		record := Record{
			Identity: item.Get(identityField).String(),
			Fields:   make(map[string]int64, len(specs)),
		}
		for _, spec := range specs {
			record.Fields[spec.Name()] = spec.Converter.Convert(item.Get(spec.Field))
		}
		records = append(records, record)
		return true
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Rank sorts records descending by field and returns the first n entries.
// Records lacking the field come after all records that have it; ties keep
// the input order.
func Rank(records []Record, field string, n int) []Entry {
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i].Identity = r.Identity
		if v, ok := r.Fields[field]; ok {
			entries[i].Value = &v
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Value, entries[j].Value
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})

	if n < len(entries) {
		entries = entries[:max(n, 0)]
	}
	return entries
}

// ParseTopRequest parses "top/{n}/{field}".
func ParseTopRequest(request string) (n int, field string, err error) {
	m := topRequestPattern.FindStringSubmatch(request)
	if m == nil {
		return 0, "", fmt.Errorf("%w: %q", ErrNotFound, request)
	}
	n, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrNotFound, request)
	}
	return n, m[2], nil
}
