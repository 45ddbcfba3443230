package logger

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDeduperCoalesces(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDeduper(l, time.Hour)

	d.Printf("offer %s still fresh", "of_1")
	d.Printf("offer %s still fresh", "of_1")
	d.Printf("offer %s still fresh", "of_1")
	d.Printf("catalog %s saved", "laptop")
	d.Flush()

	out := buf.String()
	if strings.Count(out, "still fresh") != 1 {
		t.Errorf("expected one coalesced line, got:\n%s", out)
	}
	if !strings.Contains(out, "repeated=3") {
		t.Errorf("expected repeat count, got:\n%s", out)
	}
	if !strings.Contains(out, "catalog laptop saved") {
		t.Errorf("expected trailing message after flush, got:\n%s", out)
	}
}

func TestDeduperFlushesAfterDelay(t *testing.T) {
	var buf bytes.Buffer
	flushed := make(chan struct{}, 1)
	l := slog.New(slog.NewTextHandler(&syncWriter{buf: &buf, ch: flushed}, nil))
	d := NewDeduper(l, 10*time.Millisecond)

	d.Printf("hello")
	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("deduper did not flush")
	}
}

type syncWriter struct {
	buf *bytes.Buffer
	ch  chan struct{}
}

func (w *syncWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	select {
	case w.ch <- struct{}{}:
	default:
	}
	return n, err
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	h := Middleware(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if !strings.Contains(buf.String(), "path=/healthz") || !strings.Contains(buf.String(), "status=418") {
		t.Errorf("missing request fields in log: %s", buf.String())
	}
}
