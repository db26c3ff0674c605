package logstore

import (
	"context"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"
)

// LogStore writes every record to the log and keeps nothing.
type LogStore struct {
	log log.Logger
}

func NewStore() *LogStore {
	l := &LogStore{log: log.DefaultLogger}
	l.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return l
}

func (l *LogStore) Put(ctx context.Context, rec submission.Record) error {
	e := l.log.Info().Str("key", rec.Key())
	if rec.Data != nil {
		for _, f := range rec.Data.Fields() {
			e = e.Str("field."+f.Key, f.Value)
		}
	}
	e.Msg("submission")
	return nil
}

func (l *LogStore) Close() error {
	return nil
}
