package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Garbled replaces text that could not be decoded into a usable string.
const Garbled = "<invalid>"

var jsonNull = []byte("null")

// FlexString accepts a JSON string, number, boolean or null and keeps its
// textual form. Null becomes "". Objects, arrays and text containing
// replacement characters become Garbled.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, jsonNull):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = Garbled
			return nil
		}
		if strings.ContainsRune(s, utf8.RuneError) {
			*f = Garbled
			return nil
		}
		*f = FlexString(strings.TrimSpace(s))
	case data[0] == '{' || data[0] == '[':
		*f = Garbled
	default:
		// numbers and booleans keep their literal text
		*f = FlexString(data)
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexInt accepts a JSON number, a numeric string or null. Fractions are
// truncated toward zero.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		*f = 0
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("flex int: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*f = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("flex int: %q out of range", text)
	}
	if err != nil || math.IsNaN(v) {
		return fmt.Errorf("flex int: %q is not a number", text)
	}
	// float64(math.MaxInt64) rounds up to 2^63
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return fmt.Errorf("flex int: %q out of range", text)
	}
	*f = FlexInt(int64(v))
	return nil
}
