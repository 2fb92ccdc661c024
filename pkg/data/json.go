package data

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Marshal serializes a dict to compact JSON in storage form: keys keep
// insertion order, computed ("_") keys are omitted, hidden (".") keys are
// included. Timestamps serialize as "@<epoch-millis>" strings.
func Marshal(d *Dict) ([]byte, error) {
	e := &encoder{}
	if err := e.writeDict(d); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// MarshalIndent is like Marshal but produces indented JSON for files.
func MarshalIndent(d *Dict) ([]byte, error) {
	e := &encoder{indent: "  "}
	if err := e.writeDict(d); err != nil {
		return nil, err
	}
	e.buf.WriteByte('\n')
	return e.buf.Bytes(), nil
}

// MarshalPublic serializes a dict for external clients: both computed ("_")
// and hidden (".") keys are omitted.
func MarshalPublic(d *Dict) ([]byte, error) {
	e := &encoder{omitHidden: true}
	if err := e.writeDict(d); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// Unmarshal parses a JSON object into a dict, preserving key order. Strings
// of the form "@<epoch-millis>" become timestamps, integral numbers become
// int64, other numbers float64.
func Unmarshal(b []byte) (*Dict, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}
	return decodeDict(dec)
}

type encoder struct {
	buf        bytes.Buffer
	omitHidden bool
	indent     string
	depth      int
}

func (e *encoder) newline() {
	if e.indent == "" {
		return
	}
	e.buf.WriteByte('\n')
	for i := 0; i < e.depth; i++ {
		e.buf.WriteString(e.indent)
	}
}

func (e *encoder) skipKey(key string) bool {
	if strings.HasPrefix(key, ComputedPrefix) {
		return true
	}
	return e.omitHidden && strings.HasPrefix(key, HiddenPrefix)
}

func (e *encoder) writeDict(d *Dict) error {
	if d == nil {
		e.buf.WriteString("null")
		return nil
	}
	var keys []string
	for _, k := range d.keys {
		if !e.skipKey(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		e.buf.WriteString("{}")
		return nil
	}
	e.buf.WriteByte('{')
	e.depth++
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.newline()
		e.writeString(k)
		e.buf.WriteByte(':')
		if e.indent != "" {
			e.buf.WriteByte(' ')
		}
		if err := e.writeValue(d.values[k]); err != nil {
			return err
		}
	}
	e.depth--
	e.newline()
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) writeList(l *List) error {
	if l == nil || len(l.items) == 0 {
		e.buf.WriteString("[]")
		return nil
	}
	e.buf.WriteByte('[')
	e.depth++
	for i, item := range l.items {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.newline()
		if err := e.writeValue(item); err != nil {
			return err
		}
	}
	e.depth--
	e.newline()
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) writeString(s string) {
	b, _ := json.Marshal(s)
	e.buf.Write(b)
}

func (e *encoder) writeValue(v any) error {
	switch c := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		e.buf.WriteString(strconv.FormatBool(c))
	case int64:
		e.buf.WriteString(strconv.FormatInt(c, 10))
	case float64:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to serialize number: %w", err)
		}
		e.buf.Write(b)
	case string:
		e.writeString(c)
	case time.Time:
		e.writeString("@" + strconv.FormatInt(c.UnixMilli(), 10))
	case []byte:
		e.writeString(base64.StdEncoding.EncodeToString(c))
	case Path:
		e.writeString(c.String())
	case *Dict:
		return e.writeDict(c)
	case *List:
		return e.writeList(c)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func decodeDict(dec *json.Decoder) (*Dict, error) {
	d := NewDict()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected JSON key, got %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		if err := d.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set key %q: %w", key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse JSON object end: %w", err)
	}
	return d, nil
}

func decodeList(dec *json.Decoder) (*List, error) {
	l := NewList()
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array end: %w", err)
	}
	return l, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON value: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeDict(dec)
		case '[':
			return decodeList(dec)
		}
		return nil, fmt.Errorf("unexpected JSON delimiter %v", t)
	case string:
		if isMillisTimestamp(t) {
			ms, _ := strconv.ParseInt(t[1:], 10, 64)
			return time.UnixMilli(ms), nil
		}
		return t, nil
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid JSON number %q: %w", t.String(), err)
		}
		return f, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// isMillisTimestamp matches "@<digits>" strings.
func isMillisTimestamp(s string) bool {
	if len(s) < 2 || s[0] != '@' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
