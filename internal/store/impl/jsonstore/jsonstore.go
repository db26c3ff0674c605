package jsonstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"
)

const (
	// PolicyLatest keeps only the most recently written record.
	PolicyLatest = "latest"
	// PolicyMerge keeps every record, keyed by receive time.
	PolicyMerge = "merge"
)

type Config struct {
	Path   string `mapstructure:"path" validate:"required"`
	Policy string `mapstructure:"policy" validate:"oneof=latest merge"`
}

// Store writes records to a single JSON document. Every write truncates and
// rewrites the whole file; it is not atomic across crashes.
type Store struct {
	mu     sync.Mutex
	config *Config
	log    log.Logger
}

type Entry struct {
	Key  string
	Data *submission.Submission
}

// Document is the store content ordered by key.
type Document []Entry

func (d Document) Get(key string) (*submission.Submission, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Data, true
		}
	}
	return nil, false
}

func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := e.Data.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]*submission.Submission
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	doc := make(Document, 0, len(raw))
	for k, v := range raw {
		if v == nil {
			v = submission.New()
		}
		doc = append(doc, Entry{Key: k, Data: v})
	}
	sort.Slice(doc, func(i, j int) bool { return doc[i].Key < doc[j].Key })
	*d = doc
	return nil
}

// Open prepares the storage directory and an empty document if they do not
// exist yet.
func Open(config *Config) (*Store, error) {
	if config == nil || config.Path == "" {
		return nil, errors.New("jsonstore: path is required")
	}
	if config.Policy == "" {
		config.Policy = PolicyLatest
	}
	if config.Policy != PolicyLatest && config.Policy != PolicyMerge {
		return nil, fmt.Errorf("jsonstore: unknown policy %q", config.Policy)
	}
	st := &Store{config: config}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "jsonstore").Value()

	dir := filepath.Dir(config.Path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		st.log.Info().Str("dir", dir).Msg("creating storage directory")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jsonstore: create directory: %w", err)
		}
	}
	if _, err := os.Stat(config.Path); errors.Is(err, os.ErrNotExist) {
		st.log.Info().Str("path", config.Path).Msg("creating empty store document")
		if err := st.write(Document{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("jsonstore: stat document: %w", err)
	}
	return st, nil
}

func (st *Store) Put(ctx context.Context, rec submission.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Data == nil {
		return errors.New("jsonstore: record has no data")
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	key := rec.Key()
	var doc Document
	if st.config.Policy == PolicyMerge {
		prev, err := st.load()
		if err != nil {
			return err
		}
		t := rec.Received
		for {
			if _, taken := prev.Get(key); !taken {
				break
			}
			t = t.Add(time.Microsecond)
			key = t.Format(submission.KeyLayout)
		}
		doc = append(prev, Entry{Key: key, Data: rec.Data})
		sort.SliceStable(doc, func(i, j int) bool { return doc[i].Key < doc[j].Key })
	} else {
		doc = Document{{Key: key, Data: rec.Data}}
	}
	if err := st.write(doc); err != nil {
		return err
	}
	st.log.Debug().Str("key", key).Int("fields", rec.Data.Len()).Int("records", len(doc)).Msg("record stored")
	return nil
}

// Load reads the document from disk.
func (st *Store) Load() (Document, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.load()
}

func (st *Store) load() (Document, error) {
	b, err := os.ReadFile(st.config.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("jsonstore: read document: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("jsonstore: decode document: %w", err)
	}
	return doc, nil
}

func (st *Store) write(doc Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("jsonstore: encode document: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return fmt.Errorf("jsonstore: indent document: %w", err)
	}
	out.WriteByte('\n')

	f, err := os.OpenFile(st.config.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("jsonstore: open document: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err := out.WriteTo(bw); err != nil {
		f.Close()
		return fmt.Errorf("jsonstore: write document: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("jsonstore: write document: %w", err)
	}
	return f.Close()
}

func (st *Store) Close() error {
	return nil
}
