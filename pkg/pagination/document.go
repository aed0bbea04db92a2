package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StripNulls returns doc in compact form with every object field whose value
// is null removed, at any depth. Strings, numbers, field order and null array
// elements are copied byte for byte. Invalid JSON is an error.
func StripNulls(doc json.RawMessage) (json.RawMessage, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if !bytes.Contains(compact.Bytes(), jsonNull) {
		return compact.Bytes(), nil
	}

	s := nullStripper{data: compact.Bytes()}
	s.out.Grow(len(s.data))
	s.value()
	return s.out.Bytes(), nil
}

// nullStripper copies compact, already validated JSON from data to out,
// skipping null-valued object fields.
type nullStripper struct {
	data []byte
	pos  int
	out  bytes.Buffer
}

func (s *nullStripper) value() {
	switch s.data[s.pos] {
	case '{':
		s.object()
	case '[':
		s.array()
	case '"':
		start := s.pos
		s.skipString()
		s.out.Write(s.data[start:s.pos])
	default:
		start := s.pos
		s.skipLiteral()
		s.out.Write(s.data[start:s.pos])
	}
}

func (s *nullStripper) object() {
	s.pos++
	s.out.WriteByte('{')
	first := true

	for s.data[s.pos] != '}' {
		keyStart := s.pos
		s.skipString()
		key := s.data[keyStart:s.pos]
		s.pos++ // ':'

		if bytes.HasPrefix(s.data[s.pos:], jsonNull) {
			s.pos += len(jsonNull)
		} else {
			if !first {
				s.out.WriteByte(',')
			}
			first = false
			s.out.Write(key)
			s.out.WriteByte(':')
			s.value()
		}

		if s.data[s.pos] == ',' {
			s.pos++
		}
	}

	s.pos++
	s.out.WriteByte('}')
}

func (s *nullStripper) array() {
	s.pos++
	s.out.WriteByte('[')

	for s.data[s.pos] != ']' {
		s.value()
		if s.data[s.pos] == ',' {
			s.pos++
			s.out.WriteByte(',')
		}
	}

	s.pos++
	s.out.WriteByte(']')
}

// skipString advances past the string starting at pos.
func (s *nullStripper) skipString() {
	s.pos++
	for s.data[s.pos] != '"' {
		if s.data[s.pos] == '\\' {
			s.pos++
		}
		s.pos++
	}
	s.pos++
}

// skipLiteral advances past a number, true, false or null.
func (s *nullStripper) skipLiteral() {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ',', ']', '}':
			return
		}
		s.pos++
	}
}
