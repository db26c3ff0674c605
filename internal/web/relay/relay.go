package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/stat"
	"nuha.dev/formrelay/internal/util/wc"
)

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

var (
	ErrNoContentLength = errors.New("missing Content-Length")
	ErrTooLarge        = errors.New("body exceeds relay limit")
)

type Config struct {
	// IngestAddr is where bodies are sent.
	IngestAddr string `mapstructure:"ingest_addr" validate:"required"`
	// Redirect is the Location of the answer to every accepted POST.
	Redirect string `mapstructure:"redirect" validate:"required"`
	MaxBody  int64  `mapstructure:"max_body" validate:"gte=0,lte=65507"`
}

// Relay forwards POST bodies to the ingest listener as single datagrams.
// Delivery is at most once: nothing acknowledges a datagram and a lost one
// loses the submission.
type Relay struct {
	config    *Config
	conn      *wc.PacketConn
	log       log.Logger
	forwarded *stat.Stat
	failed    *stat.Stat
}

type Stats struct {
	Forwarded stat.Snapshot `json:"forwarded"`
	Failed    stat.Snapshot `json:"failed"`
	Socket    wc.Counters   `json:"socket"`
}

func New(config *Config) (*Relay, error) {
	if config.MaxBody <= 0 {
		config.MaxBody = MaxDatagram
	}
	if config.Redirect == "" {
		config.Redirect = "message.html"
	}
	r := &Relay{config: config}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	c, err := net.Dial("udp", config.IngestAddr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", config.IngestAddr, err)
	}
	r.conn = wc.NewPacketConn(c.(net.PacketConn), r.log)
	r.forwarded = stat.NewStat()
	r.failed = stat.NewStat()
	return r, nil
}

// ReadBody reads exactly Content-Length bytes from the request. A request
// without the header is refused even when its body is empty; net/http
// reports such a request with ContentLength 0.
func (r *Relay) ReadBody(req *http.Request) ([]byte, error) {
	if req.ContentLength < 0 || len(req.TransferEncoding) > 0 {
		return nil, ErrNoContentLength
	}
	if req.ContentLength == 0 && req.Header.Get("Content-Length") == "" {
		return nil, ErrNoContentLength
	}
	if req.ContentLength > r.config.MaxBody {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, req.ContentLength, r.config.MaxBody)
	}
	body := make([]byte, req.ContentLength)
	if req.ContentLength == 0 {
		return body, nil
	}
	if _, err := io.ReadFull(req.Body, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Forward sends body as one datagram.
func (r *Relay) Forward(body []byte) error {
	_, err := r.conn.Write(body)
	now := time.Now()
	if err != nil {
		r.failed.CounterIncr(1, now)
		return err
	}
	r.forwarded.CounterIncr(1, now)
	return nil
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := r.ReadBody(req)
	if err != nil {
		r.log.Warn().Err(err).Str("path", req.URL.Path).Str("remote_address", req.RemoteAddr).Int64("content_length", req.ContentLength).Msg("rejected submission")
		switch {
		case errors.Is(err, ErrNoContentLength):
			http.Error(w, http.StatusText(http.StatusLengthRequired), http.StatusLengthRequired)
		case errors.Is(err, ErrTooLarge):
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		}
		return
	}
	if err := r.Forward(body); err != nil {
		r.log.Error().Err(err).Str("ingest_addr", r.config.IngestAddr).Int("size", len(body)).Msg("unable to forward submission")
	} else {
		r.log.Debug().Str("path", req.URL.Path).Int("size", len(body)).Msg("submission forwarded")
	}
	w.Header().Set("Location", r.config.Redirect)
	w.WriteHeader(http.StatusFound)
}

func (r *Relay) Stats() Stats {
	now := time.Now()
	return Stats{
		Forwarded: r.forwarded.Snapshot(now),
		Failed:    r.failed.Snapshot(now),
		Socket:    r.conn.Stat(),
	}
}

func (r *Relay) Close() error {
	return r.conn.Close()
}
