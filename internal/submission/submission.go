package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// KeyLayout is the layout of the store key derived from the receive time.
const KeyLayout = "2006-01-02 15:04:05.000000"

var (
	ErrEmpty     = errors.New("empty submission")
	ErrMalformed = errors.New("malformed submission")
)

type Field struct {
	Key   string
	Value string
}

// Submission is an ordered list of form fields with unique keys.
// Adding a key twice keeps the first position and the last value.
type Submission struct {
	fields []Field
	index  map[string]int
}

func New() *Submission {
	return &Submission{index: make(map[string]int)}
}

func (s *Submission) Set(key, value string) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[key]; ok {
		s.fields[i].Value = value
		return
	}
	s.index[key] = len(s.fields)
	s.fields = append(s.fields, Field{Key: key, Value: value})
}

func (s *Submission) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.fields[i].Value, true
}

func (s *Submission) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Submission) Len() int {
	return len(s.fields)
}

// Decode parses an application/x-www-form-urlencoded body. Pairs are split
// on '&' and on the first '=' before percent-decoding, so encoded separators
// inside values survive. Empty segments are skipped. Only trailing CR/LF is
// stripped from the body; other whitespace is part of the data.
func Decode(data []byte) (*Submission, error) {
	body := strings.TrimRight(string(data), "\r\n")
	if body == "" {
		return nil, ErrEmpty
	}
	s := New()
	for _, seg := range strings.Split(body, "&") {
		if seg == "" {
			continue
		}
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: pair %q has no '='", ErrMalformed, seg)
		}
		key, err := url.QueryUnescape(seg[:eq])
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, seg[:eq], err)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrMalformed)
		}
		value, err := url.QueryUnescape(seg[eq+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrMalformed, key, err)
		}
		s.Set(key, value)
	}
	if s.Len() == 0 {
		return nil, ErrEmpty
	}
	return s, nil
}

// MarshalJSON writes the fields as a JSON object in insertion order.
// HTML characters and non-ASCII text are written as is, though json.Marshal
// escapes HTML again around it; use Encode to keep them.
func (s *Submission) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, f.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeString(&buf, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Submission) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	t, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("submission: expected object, got %v", t)
	}
	*s = Submission{index: make(map[string]int)}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("submission: unexpected key %v", kt)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("submission: field %q: %w", key, err)
		}
		s.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// Encode marshals v like json.Marshal without HTML escaping.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeString(buf *bytes.Buffer, v string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Record is a submission tagged with the time it was received.
type Record struct {
	Received time.Time
	Data     *Submission
}

func NewRecord(data *Submission, t time.Time) Record {
	return Record{Received: t, Data: data}
}

func (r Record) Key() string {
	return r.Received.Format(KeyLayout)
}
