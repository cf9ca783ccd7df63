package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"wabridge/internal/metrics"
)

func TestStats_Handler(t *testing.T) {
	s := metrics.New()
	s.FrameRead()
	s.PairingResult("paired")
	s.OutboxDepth(3)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"wabridge_frames_read 1",
		`wabridge_pairing_attempts{result="paired"} 1`,
		"wabridge_outbox_depth 3",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in output", want)
		}
	}
}

func TestStats_NilIsNoop(t *testing.T) {
	var s *metrics.Stats
	s.FrameRead()
	s.Delivery("acked")
	s.ConnState(2)
}
