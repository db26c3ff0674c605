package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/stat"
	"nuha.dev/formrelay/internal/store"
	"nuha.dev/formrelay/internal/submission"
	"nuha.dev/formrelay/internal/util"
	"nuha.dev/formrelay/internal/util/wc"
)

const (
	DATAGRAM_RECEIVED  string = "datagram_received"
	DATAGRAM_REJECTED  string = "datagram_rejected"
	DATAGRAM_TRUNCATED string = "datagram_truncated"
	RECORD_STORED      string = "record_stored"
	RECORD_FAILED      string = "record_failed"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// BufferSize bounds a datagram; longer payloads are truncated by the
	// socket.
	BufferSize int `mapstructure:"buffer_size" validate:"gte=1,lte=65535"`
}

// Listener receives form bodies as datagrams and hands them to a store.
type Listener struct {
	config   *Config
	conn     *wc.PacketConn
	store    store.Store
	log      log.Logger
	now      func() time.Time
	received *stat.Stat
	stored   *stat.Stat
	rejected *stat.Stat
	failed   *stat.Stat
}

type Stats struct {
	Received stat.Snapshot `json:"received"`
	Stored   stat.Snapshot `json:"stored"`
	Rejected stat.Snapshot `json:"rejected"`
	Failed   stat.Snapshot `json:"failed"`
	Socket   wc.Counters   `json:"socket"`
}

// Listen binds the datagram socket. A bind failure is returned to the
// caller, the listener does not retry.
func Listen(config *Config, st store.Store) (*Listener, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	l := &Listener{config: config, store: st, now: time.Now}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	pc, err := net.ListenPacket("udp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen %s: %w", config.ListenAddr, err)
	}
	l.conn = wc.NewPacketConn(pc, l.log)
	l.received = stat.NewStat()
	l.stored = stat.NewStat()
	l.rejected = stat.NewStat()
	l.failed = stat.NewStat()
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done. Bad datagrams and store errors
// are logged and never end the loop.
func (l *Listener) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("shutting down ingest listener")
			l.conn.Close()
		case <-stop:
		}
	}()

	l.log.Info().Msgf("starting ingest listener on %s", l.conn.LocalAddr())
	buf := make([]byte, l.config.BufferSize)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || l.conn.Closed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.log.Error().Err(err).Msg("failed to read datagram")
			l.conn.Close()
			return err
		}
		t := l.now()
		data := make([]byte, n)
		copy(data, buf[:n])
		l.handle(ctx, data, addr, t)
	}
}

func (l *Listener) handle(ctx context.Context, data []byte, addr net.Addr, t time.Time) {
	did := util.GenUUID()
	defer func() {
		if r := recover(); r != nil {
			l.failed.CounterIncr(1, t)
			l.log.Error().Str("event", RECORD_FAILED).Str("did", did).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
		}
	}()
	l.received.CounterIncr(1, t)
	raddr := ""
	if addr != nil {
		raddr = addr.String()
	}
	l.log.Debug().Str("event", DATAGRAM_RECEIVED).Str("did", did).Str("remote_address", raddr).Int("size", len(data)).Msg("")
	if len(data) == l.config.BufferSize {
		l.log.Warn().Str("event", DATAGRAM_TRUNCATED).Str("did", did).Int("buffer_size", l.config.BufferSize).Msg("datagram filled the buffer and may be truncated")
	}

	sub, err := submission.Decode(data)
	if err != nil {
		l.rejected.CounterIncr(1, t)
		l.log.Error().Str("event", DATAGRAM_REJECTED).Str("did", did).Err(err).Str("remote_address", raddr).Msg("discarding datagram")
		return
	}
	rec := submission.NewRecord(sub, t)
	if err := l.store.Put(ctx, rec); err != nil {
		l.failed.CounterIncr(1, t)
		l.log.Error().Str("event", RECORD_FAILED).Str("did", did).Str("key", rec.Key()).Err(err).Msg("submission lost")
		return
	}
	l.stored.CounterIncr(1, t)
	l.log.Info().Str("event", RECORD_STORED).Str("did", did).Str("key", rec.Key()).Int("fields", sub.Len()).Msg("")
}

func (l *Listener) Stats() Stats {
	now := l.now()
	return Stats{
		Received: l.received.Snapshot(now),
		Stored:   l.stored.Snapshot(now),
		Rejected: l.rejected.Snapshot(now),
		Failed:   l.failed.Snapshot(now),
		Socket:   l.conn.Stat(),
	}
}

// Close releases the socket without waiting for Serve.
func (l *Listener) Close() error {
	return l.conn.Close()
}
