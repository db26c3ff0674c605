package relay

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func setup(t *testing.T) (*Relay, net.PacketConn) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	r, err := New(&Config{IngestAddr: pc.LocalAddr().String(), Redirect: "message.html", MaxBody: 1024})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, pc
}

func receive(t *testing.T, pc net.PacketConn) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	return buf[:n]
}

func TestForwardsBodyAndRedirects(t *testing.T) {
	r, pc := setup(t)
	bodies := []string{
		"name=Jane&msg=hello",
		"username=%D0%9E%D0%BB%D1%8F&message=a+b%26c",
		"x=" + strings.Repeat("y", 900),
	}
	for _, body := range bodies {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/any/path", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusFound {
			t.Fatalf("status %d, want 302", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "message.html" {
			t.Fatalf("location %q", loc)
		}
		if got := receive(t, pc); !bytes.Equal(got, []byte(body)) {
			t.Fatalf("forwarded %q, want %q", got, body)
		}
	}
	if s := r.Stats(); s.Forwarded.Total != uint64(len(bodies)) {
		t.Fatalf("forwarded total %d", s.Forwarded.Total)
	}
}

func TestMissingContentLength(t *testing.T) {
	r, _ := setup(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.ContentLength = -1
	r.ServeHTTP(w, req)
	if w.Code != http.StatusLengthRequired {
		t.Fatalf("status %d, want 411", w.Code)
	}
	if _, err := r.ReadBody(req); !errors.Is(err, ErrNoContentLength) {
		t.Fatalf("expected ErrNoContentLength, got %v", err)
	}
}

func TestHeaderlessPostOverTCP(t *testing.T) {
	r, pc := setup(t)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	requests := []string{
		"POST /contact HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n",
		"POST /contact HTTP/1.1\r\nHost: test\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n3\r\na=b\r\n0\r\n\r\n",
	}
	for _, raw := range requests {
		c, err := net.Dial("tcp", srv.Listener.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Write([]byte(raw)); err != nil {
			t.Fatal(err)
		}
		res, err := http.ReadResponse(bufio.NewReader(c), nil)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		res.Body.Close()
		c.Close()
		if res.StatusCode != http.StatusLengthRequired {
			t.Fatalf("status %d, want 411", res.StatusCode)
		}
	}

	pc.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, _, err := pc.ReadFrom(make([]byte, 16)); err == nil {
		t.Fatalf("datagram of %d bytes forwarded", n)
	}
	if s := r.Stats(); s.Forwarded.Total != 0 {
		t.Fatalf("forwarded total %d", s.Forwarded.Total)
	}
}

func TestExplicitZeroLength(t *testing.T) {
	r, _ := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Length", "0")
	body, err := r.ReadBody(req)
	if err != nil || len(body) != 0 {
		t.Fatalf("read %q, %v", body, err)
	}
}

func TestBodyTooLarge(t *testing.T) {
	r, _ := setup(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 2048)))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d, want 413", w.Code)
	}
}

func TestShortBody(t *testing.T) {
	r, _ := setup(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.ContentLength = 10
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestReadsOnlyContentLength(t *testing.T) {
	r, _ := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b&extra"))
	req.ContentLength = 3
	body, err := r.ReadBody(req)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "a=b" {
		t.Fatalf("read %q", body)
	}
}
