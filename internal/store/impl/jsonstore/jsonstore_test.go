package jsonstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nuha.dev/formrelay/internal/submission"
)

func record(t *testing.T, body string, ts time.Time) submission.Record {
	t.Helper()
	s, err := submission.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return submission.NewRecord(s, ts)
}

func TestOpenCreatesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage", "data.json")
	if _, err := Open(&Config{Path: path}); err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(b)) != "{}" {
		t.Fatalf("expected empty document, got %q", b)
	}
}

func TestOpenKeepsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"k":{"a":"b"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(&Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc) != 1 || doc[0].Key != "k" {
		t.Fatalf("existing document overwritten: %v", doc)
	}
}

func TestPutLatestReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	st, err := Open(&Config{Path: path, Policy: PolicyLatest})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	if err := st.Put(context.Background(), record(t, "name=Jane&msg=hello", t0)); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := st.Put(context.Background(), record(t, "name=Bob&msg=bye", t0.Add(time.Second))); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	var raw map[string]map[string]string
	b, _ := os.ReadFile(path)
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected only the latest record, got %d", len(raw))
	}
	got, ok := raw["2024-01-02 03:04:06.000000"]
	if !ok {
		t.Fatalf("latest key missing: %v", raw)
	}
	if got["name"] != "Bob" || got["msg"] != "bye" || len(got) != 2 {
		t.Fatalf("unexpected record %v", got)
	}
}

func TestPutMergeKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	st, err := Open(&Config{Path: path, Policy: PolicyMerge})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	for _, body := range []string{"n=1", "n=2", "n=3"} {
		// same timestamp for every record to exercise collision handling
		if err := st.Put(context.Background(), record(t, body, t0)); err != nil {
			t.Fatalf("put %s: %v", body, err)
		}
	}
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc) != 3 {
		t.Fatalf("expected 3 records, got %d", len(doc))
	}
	for i, want := range []string{"1", "2", "3"} {
		if v, _ := doc[i].Data.Get("n"); v != want {
			t.Errorf("record %d = %q, want %q", i, v, want)
		}
	}
	if doc[2].Key != "2024-01-02 03:04:05.000002" {
		t.Errorf("unexpected collision key %q", doc[2].Key)
	}
}

func TestPutKeepsNonASCII(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	st, err := Open(&Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := submission.New()
	s.Set("message", "Привіт, світ <3")
	if err := st.Put(context.Background(), submission.NewRecord(s, time.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "Привіт, світ <3") {
		t.Fatalf("text escaped in document: %s", b)
	}
}

func TestPutCancelled(t *testing.T) {
	st, err := Open(&Config{Path: filepath.Join(t.TempDir(), "data.json")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := st.Put(ctx, record(t, "a=b", time.Now())); err == nil {
		t.Fatal("expected context error")
	}
}

func TestOpenInvalid(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := Open(&Config{Path: filepath.Join(t.TempDir(), "d.json"), Policy: "append"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}
