package static

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/phuslu/log"
)

const FallbackContentType = "text/plain"

var ErrEscape = errors.New("path escapes base directory")

type Config struct {
	BaseDir     string `mapstructure:"base_dir" validate:"required"`
	IndexPage   string `mapstructure:"index_page" validate:"required"`
	MessagePage string `mapstructure:"message_page" validate:"required"`
	ErrorPage   string `mapstructure:"error_page" validate:"required"`
	// Hidden lists path prefixes under BaseDir that are never served.
	Hidden []string `mapstructure:"hidden"`
	// MimeTypes maps an extension such as "md" or ".md" to a content type and takes
	// precedence over the platform table.
	MimeTypes map[string]string `mapstructure:"mime_types"`
}

type target int

const (
	targetFixed target = iota
	targetLookup
)

type route struct {
	kind        target
	file        string
	contentType string
}

// Server resolves request paths through a route table built once in New.
type Server struct {
	base   string
	routes map[string]route
	lookup route
	errorp string
	hidden []string
	mimes  map[string]string
	log    log.Logger
}

func New(config *Config) (*Server, error) {
	base, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("static: base dir: %w", err)
	}
	s := &Server{base: base}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "static").Value()
	s.routes = make(map[string]route)
	s.routes["/"] = route{kind: targetFixed, file: filepath.Join(base, config.IndexPage), contentType: "text/html"}
	s.routes["/"+config.MessagePage] = route{kind: targetFixed, file: filepath.Join(base, config.MessagePage), contentType: "text/html"}
	s.lookup = route{kind: targetLookup}
	s.errorp = filepath.Join(base, config.ErrorPage)
	for _, h := range config.Hidden {
		h = strings.Trim(filepath.ToSlash(filepath.Clean(h)), "/")
		if h != "" && h != "." {
			s.hidden = append(s.hidden, h)
		}
	}
	s.mimes = make(map[string]string, len(config.MimeTypes))
	for ext, ct := range config.MimeTypes {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.mimes[ext] = ct
	}
	return s, nil
}

// Resolve maps a URL path to a file and its content type. ok is false when
// no file exists for the path.
func (s *Server) Resolve(urlPath string) (file string, contentType string, ok bool, err error) {
	rt, found := s.routes[urlPath]
	if !found {
		rt = s.lookup
	}
	if rt.kind == targetFixed {
		return rt.file, rt.contentType, regular(rt.file), nil
	}
	file, err = s.contain(urlPath)
	if err != nil {
		return "", "", false, err
	}
	if s.isHidden(file) || !regular(file) {
		return file, "", false, nil
	}
	return file, s.ContentType(file), true, nil
}

func (s *Server) contain(urlPath string) (string, error) {
	rel := strings.TrimPrefix(urlPath, "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", ErrEscape
		}
	}
	rel = path.Clean("/" + rel)
	full := filepath.Join(s.base, filepath.FromSlash(rel))
	r, err := filepath.Rel(s.base, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrEscape
	}
	// symlinks must not lead outside either
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		realBase, err := filepath.EvalSymlinks(s.base)
		if err != nil {
			realBase = s.base
		}
		r, err := filepath.Rel(realBase, resolved)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", ErrEscape
		}
	}
	return full, nil
}

func (s *Server) isHidden(file string) bool {
	r, err := filepath.Rel(s.base, file)
	if err != nil {
		return true
	}
	r = filepath.ToSlash(r)
	for _, h := range s.hidden {
		if r == h || strings.HasPrefix(r, h+"/") {
			return true
		}
	}
	return false
}

func (s *Server) ContentType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if ct, ok := s.mimes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return FallbackContentType
}

func regular(file string) bool {
	fi, err := os.Stat(file)
	return err == nil && fi.Mode().IsRegular()
}

// ServeHTTP answers a missing file with the error page and status 200.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	file, ct, ok, err := s.Resolve(r.URL.Path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Str("remote_address", r.RemoteAddr).Msg("rejected path")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !ok {
		s.log.Debug().Str("path", r.URL.Path).Msg("not found, serving error page")
		file, ct = s.errorp, "text/html"
	}
	if err := s.send(w, file, ct); err != nil {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("file", file).Msg("unable to serve file")
	}
}

func (s *Server) send(w http.ResponseWriter, file, contentType string) error {
	f, err := os.Open(file)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, f)
	return err
}
