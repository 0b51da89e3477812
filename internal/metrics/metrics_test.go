package metrics

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestObserveEmitRecordsOutcome(t *testing.T) {
	start := time.Now()
	time.Sleep(time.Millisecond)
	ObserveEmit(start, "open", "emitted")

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "kernwatch_events_total" {
			continue
		}
		found = true
		if len(mf.Metric) == 0 {
			t.Fatalf("events_total has no samples")
		}
	}
	if !found {
		t.Fatalf("kernwatch_events_total not found")
	}
}

func TestMetricsEndpointExposesCoreMetrics(t *testing.T) {
	ObserveEmit(time.Now(), "write", "dropped_ring")
	SetRingUsed(4096)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "kernwatch_events_total") {
		t.Fatalf("expected events counter, body: %s", body)
	}
	if !strings.Contains(body, "kernwatch_ring_used_bytes") {
		t.Fatalf("expected ring gauge, body: %s", body)
	}
	if !strings.Contains(body, "kernwatch_up") {
		t.Fatalf("expected up gauge, body: %s", body)
	}
}

func TestServeReturnsWhenAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), ln.Addr().String(), log.New(io.Discard, "", 0))
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected bind error for occupied address")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return on a bind failure")
	}
}

func TestSetRingUsedClampsNegative(t *testing.T) {
	SetRingUsed(-5)

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "kernwatch_ring_used_bytes" {
			continue
		}
		if got := mf.Metric[0].GetGauge().GetValue(); got != 0 {
			t.Fatalf("gauge = %v, want 0", got)
		}
	}
}
