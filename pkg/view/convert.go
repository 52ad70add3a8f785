package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Converter turns a JSON value into the int64 stored in a view.
type Converter string

const (
	// ConverterNumber passes numbers through, truncating fractions.
	ConverterNumber Converter = "number"

	// ConverterDate parses ISO-8601 timestamps to epoch milliseconds.
	ConverterDate Converter = "date"
)

// dateLayouts are tried in order by FromDate.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
}

// UnmarshalText accepts "number" and "date" as well as their
// "fromNumber"/"fromDate" aliases. Empty selects ConverterNumber.
func (c *Converter) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "number", "numeric", "fromnumber":
		*c = ConverterNumber
	case "date", "fromdate":
		*c = ConverterDate
	default:
		return fmt.Errorf("unknown converter %q", text)
	}
	return nil
}

// Convert applies the converter to v. Absent or malformed input yields 0.
func (c Converter) Convert(v gjson.Result) int64 {
	if c == ConverterDate {
		return FromDate(v)
	}
	return FromNumber(v)
}

// FromNumber returns the integer value of a JSON number. Any other node,
// numeric strings included, yields 0.
func FromNumber(v gjson.Result) int64 {
	if v.Type != gjson.Number {
		return 0
	}
	return v.Int()
}

// FromDate returns the epoch milliseconds of an ISO-8601 timestamp such as
// 2011-01-26T19:01:12Z.
func FromDate(v gjson.Result) int64 {
	if v.Type != gjson.String {
		return 0
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v.Str); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
