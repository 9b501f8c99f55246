package param

import (
	"strconv"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// JSON returns the store as one flat JSON object in insertion order.
func (s *Store) JSON() string {
	return string(s.AppendJSON(make([]byte, 0, 16+len(s.items)*32)))
}

// AppendJSON appends the flat JSON object for s to dst.
//
// encoding/json is not used because map keys would lose insertion order and
// its HTML escaping would change text payloads.
func (s *Store) AppendJSON(dst []byte) []byte {
	dst = append(dst, '{')
	for i, e := range s.items {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendString(dst, e.Name)
		dst = append(dst, ':')
		dst = appendValue(dst, e.Value)
	}
	return append(dst, '}')
}

func appendValue(dst []byte, v Value) []byte {
	switch v.Kind() {
	case KindInt:
		if n, ok := v.AsInt(); ok {
			return strconv.AppendInt(dst, int64(n), 10)
		}
	case KindBool:
		if b, ok := v.AsBool(); ok {
			return strconv.AppendBool(dst, b)
		}
	case KindText:
		if t, ok := v.AsText(); ok {
			return appendString(dst, t)
		}
	}
	return append(dst, "null"...)
}

// appendString writes s as a JSON string. Invalid UTF-8 bytes become
// U+FFFD so the output is always valid JSON text.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				dst = append(dst, `\ufffd`...)
			} else {
				dst = append(dst, s[i:i+size]...)
			}
			i += size - 1
			continue
		}
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				dst = append(dst, c)
			}
		}
	}
	return append(dst, '"')
}
