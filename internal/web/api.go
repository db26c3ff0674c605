package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
)

type ApiConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// ProxyProtocol accepts a PROXY protocol header in front of each
	// connection, for deployments behind a load balancer.
	ProxyProtocol bool          `mapstructure:"proxy_protocol"`
	CorsOrigins   []string      `mapstructure:"cors_origins"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// Api is the HTTP front door: GET goes to the static file server and POST
// to the form relay.
type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
}

func NewApi(config *ApiConfig, files http.Handler, relay http.Handler) *Api {
	api := &Api{config: config}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(api.requestLogger)
	r.Use(middleware.Recoverer)
	if len(config.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   config.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Get("/*", files.ServeHTTP)
	r.Post("/*", relay.ServeHTTP)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        api.r,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run listens and serves until ctx is done, then shuts down gracefully.
// Every connection is served on its own goroutine.
func (api *Api) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", api.config.ListenAddr)
	if err != nil {
		api.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	return api.Serve(ctx, ln)
}

func (api *Api) Serve(ctx context.Context, ln net.Listener) error {
	if api.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			api.log.Info().Msg("shutting down api-server")
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.s.Shutdown(sctx); err != nil {
				api.log.Error().Err(err).Msg("graceful shutdown failed")
				api.s.Close()
			}
		case <-done:
		}
	}()
	defer close(done)

	api.log.Info().Msgf("starting api-server on : %s", ln.Addr())
	err := api.s.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	api.log.Error().Err(err).Msg("")
	return err
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (api *Api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		api.log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).
			Int("bytes", sw.bytes).Str("remote_address", r.RemoteAddr).Dur("duration", time.Since(start)).Msg("")
	})
}
