package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/ingest"
	"nuha.dev/formrelay/internal/util"
	"nuha.dev/formrelay/internal/web/relay"
)

type IngestSource interface {
	Stats() ingest.Stats
}

type RelaySource interface {
	Stats() relay.Stats
}

type MonitoringServer struct {
	ingest IngestSource
	relay  RelaySource
	server *http.Server
	log    log.Logger
}

type MonitoringConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type status struct {
	Time   time.Time     `json:"time"`
	Ingest *ingest.Stats `json:"ingest,omitempty"`
	Relay  *relay.Stats  `json:"relay,omitempty"`
}

// NewMonApi serves counters of the ingest listener and the relay. Either
// source may be nil.
func NewMonApi(in IngestSource, rl RelaySource, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{ingest: in, relay: rl}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitoring").Value()
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(m.serve_http),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *MonitoringServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		m.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	go func() {
		<-ctx.Done()
		m.server.Close()
	}()
	m.log.Info().Msgf("starting monitoring server on %s", ln.Addr())
	err = m.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	res := status{Time: time.Now()}
	if m.ingest != nil {
		s := m.ingest.Stats()
		res.Ingest = &s
	}
	if m.relay != nil {
		s := m.relay.Stats()
		res.Relay = &s
	}
	util.JsonWrite(w, res)
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return http.HandlerFunc(m.serve_http)
}
