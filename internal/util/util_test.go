package util

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJsonWrite(t *testing.T) {
	w := httptest.NewRecorder()
	JsonWrite(w, map[string]int{"a": 1})
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("content type not set")
	}
	if strings.TrimSpace(w.Body.String()) != `{"a":1}` {
		t.Errorf("body %q", w.Body.String())
	}
}

func TestGenUUID(t *testing.T) {
	a, b := GenUUID(), GenUUID()
	if len(a) != 36 || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

func TestPan1c(t *testing.T) {
	Pan1c(nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Pan1c(errors.New("x"))
}
