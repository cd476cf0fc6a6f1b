package lineage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// Encode renders r as an indented JSON array: four-space indentation,
// ": " after keys, and non-ASCII characters escaped as \uXXXX. An empty
// result encodes as [].
func Encode(r Result) ([]byte, error) {
	if len(r) == 0 {
		return []byte("[]"), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode lineage: %w", err)
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// MarshalJSON renders a literal identity as its name and a subquery identity
// as a string holding the subquery's encoded lineage.
func (t TableIdentity) MarshalJSON() ([]byte, error) {
	s, err := t.text()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// text is the string form shared by String and MarshalJSON.
func (t TableIdentity) text() (string, error) {
	if !t.IsSubquery() {
		return t.Name, nil
	}
	b, err := Encode(t.Subquery)
	if err != nil {
		return "", fmt.Errorf("encode subquery lineage: %w", err)
	}
	return string(b), nil
}

// escapeNonASCII replaces every rune at or above DEL with \u escapes, using
// surrogate pairs outside the basic multilingual plane.
func escapeNonASCII(b []byte) []byte {
	ascii := true
	for _, c := range b {
		if c >= 0x7f {
			ascii = false
			break
		}
	}
	if ascii {
		return b
	}

	var out bytes.Buffer
	out.Grow(len(b) + len(b)/2)
	for _, r := range string(b) {
		if r < 0x7f {
			out.WriteRune(r)
			continue
		}
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&out, `\u%04x`, r)
	}
	return out.Bytes()
}
