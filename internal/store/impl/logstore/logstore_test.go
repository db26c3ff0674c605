package logstore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"
)

func TestPutLogsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStore()
	l.log.Writer = &log.IOWriter{Writer: &buf}
	l.log.Level = log.InfoLevel

	s := submission.New()
	s.Set("name", "Jane")
	if err := l.Put(context.Background(), submission.NewRecord(s, time.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"field.name":"Jane"`) || !strings.Contains(out, `"module":"logstore"`) {
		t.Fatalf("unexpected log line %s", out)
	}
}
