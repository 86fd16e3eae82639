package doorlock

import "encoding/json"

// RedactedValue replaces secret material in any rendered output
const RedactedValue = "[REDACTED]"

// Secret holds credential material. It never renders its value through
// JSON, fmt or zap; Reveal is the only way to read it.
type Secret string

// NewSecret wraps a raw value
func NewSecret(v string) Secret {
	return Secret(v)
}

// Reveal returns the raw value
func (s Secret) Reveal() string {
	return string(s)
}

// Empty reports whether no value is set
func (s Secret) Empty() bool {
	return s == ""
}

// String implements fmt.Stringer
func (s Secret) String() string {
	if s.Empty() {
		return ""
	}
	return RedactedValue
}

// GoString implements fmt.GoStringer so %#v stays redacted
func (s Secret) GoString() string {
	return s.String()
}

// MarshalJSON implements json.Marshaler
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
