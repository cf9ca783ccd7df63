package relay_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"wabridge/internal/crypto"
	"wabridge/internal/logging"
	"wabridge/internal/relay"
	"wabridge/internal/services/pairing"
	"wabridge/internal/testutil"
)

func newRelay(t *testing.T) (*relay.Server, *httptest.Server) {
	t.Helper()
	srv := relay.New(relay.Config{Log: testutil.TestLoggerSys(t, logging.SubsysRelay)})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestScan_UnknownRef(t *testing.T) {
	srv, ts := newRelay(t)
	_, eph, _ := crypto.GenerateX25519()
	id, _ := crypto.GenerateIdentity()
	payload := pairing.EncodePayload("nope", eph, id.XPub)

	if _, err := srv.Scan(payload, ""); !errors.Is(err, relay.ErrUnknownRef) {
		t.Fatalf("want ErrUnknownRef, got %v", err)
	}

	_, err := relay.NewHTTP(ts.URL).Scan(context.Background(), payload, "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("want 404 over HTTP, got %v", err)
	}
}

func TestScan_MalformedPayload(t *testing.T) {
	srv, _ := newRelay(t)
	if _, err := srv.Scan("not a payload", ""); err == nil {
		t.Fatal("scan accepted a malformed payload")
	}
}

func TestNewHTTP_FromWebsocketURL(t *testing.T) {
	c := relay.NewHTTP("ws://127.0.0.1:8080/ws")
	if c.Base != "http://127.0.0.1:8080" {
		t.Fatalf("base %q", c.Base)
	}
}

func TestDevices_EmptyAndUnknown(t *testing.T) {
	srv, ts := newRelay(t)
	devs, err := relay.NewHTTP(ts.URL).Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 0 {
		t.Fatalf("got %d devices", len(devs))
	}
	if srv.Kick("ghost@relay") {
		t.Fatal("kicked a device that does not exist")
	}
	if err := srv.Revoke("ghost@relay"); !errors.Is(err, relay.ErrUnknownDevice) {
		t.Fatalf("want ErrUnknownDevice, got %v", err)
	}
}
