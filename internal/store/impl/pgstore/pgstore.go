package pgstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"
)

type StoreConfig struct {
	URL         string        `mapstructure:"url" validate:"required"`
	Table       string        `mapstructure:"table" validate:"required"`
	BufSize     int           `mapstructure:"buf_size" validate:"gte=1"`
	TickerDur   time.Duration `mapstructure:"ticker"`
	MaxAgeFlush time.Duration `mapstructure:"max_age_flush"`
}

// copier writes a batch of rows to the database.
type copier func(ctx context.Context, table string, rows []record) error

// Store buffers records and copies them into PostgreSQL in batches. A batch
// is flushed when it is full or when its oldest record is older than
// MaxAgeFlush.
type Store struct {
	config *StoreConfig
	wlock  sync.Mutex
	wbuf   buffer
	dbp    *pgxpool.Pool
	copy   copier
	log    log.Logger
	stop   chan struct{}
	done   chan struct{}
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	key    string
	fields []byte
	srvt   time.Time
}

func Connect(ctx context.Context, config *StoreConfig) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id bigserial PRIMARY KEY,
		received_key text NOT NULL,
		fields jsonb NOT NULL,
		server_time timestamptz NOT NULL
	)`, pgx.Identifier{config.Table}.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: create table: %w", err)
	}
	st := NewStore(config, func(ctx context.Context, table string, rows []record) error {
		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{table},
			[]string{"received_key", "fields", "server_time"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
				d := rows[i]
				return []interface{}{d.key, string(d.fields), d.srvt}, nil
			}))
		return err
	})
	st.dbp = pool
	return st, nil
}

func NewStore(config *StoreConfig, cp copier) *Store {
	o := &Store{}
	o.config = config
	if o.config.BufSize <= 0 {
		o.config.BufSize = 1
	}
	if o.config.TickerDur <= 0 {
		o.config.TickerDur = 5 * time.Second
	}
	if o.config.MaxAgeFlush <= 0 {
		o.config.MaxAgeFlush = o.config.TickerDur
	}
	o.copy = cp
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.timer_flusher()
	return o
}

func (st *Store) timer_flusher() {
	defer close(st.done)
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) >= st.config.MaxAgeFlush {
				st.log.Debug().Str("reason", "max_age").Msg("flushing")
				_ = st.flush(context.Background())
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(ctx context.Context, rec submission.Record) error {
	if rec.Data == nil {
		return fmt.Errorf("pgstore: record has no data")
	}
	fields, err := rec.Data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("pgstore: encode fields: %w", err)
	}
	st.wlock.Lock()
	defer st.wlock.Unlock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now()
	}
	st.wbuf.buf = append(st.wbuf.buf, record{key: rec.Key(), fields: fields, srvt: rec.Received})
	if len(st.wbuf.buf) >= st.config.BufSize {
		return st.flush(ctx)
	}
	return nil
}

// flush must be called with wlock held. A failed batch is dropped.
func (st *Store) flush(ctx context.Context) error {
	buf := st.wbuf
	st.wbuf = new_buffer(buf.seq+1, st.config.BufSize)
	t1 := time.Now()
	err := st.copy(ctx, st.config.Table, buf.buf)
	if err != nil {
		st.log.Error().Err(err).Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("flush error")
		return fmt.Errorf("pgstore: flush: %w", err)
	}
	st.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	return nil
}

// Close flushes pending records and releases the pool.
func (st *Store) Close() error {
	close(st.stop)
	<-st.done
	st.wlock.Lock()
	var err error
	if len(st.wbuf.buf) != 0 {
		err = st.flush(context.Background())
	}
	st.wlock.Unlock()
	if st.dbp != nil {
		st.dbp.Close()
	}
	return err
}
