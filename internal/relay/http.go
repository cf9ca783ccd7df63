package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wabridge/internal/domain"
)

// HTTP talks to the relay's control endpoints.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a control client for the relay at base, which may be the
// websocket URL.
func NewHTTP(base string) *HTTP {
	base = strings.TrimSuffix(base, "/ws")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	return &HTTP{Base: strings.TrimSuffix(base, "/"), HTTP: http.DefaultClient}
}

// Scan submits a pairing payload as a phone would.
func (c *HTTP) Scan(ctx context.Context, payload string, jid domain.JID) (domain.JID, error) {
	var out scanReply
	if err := c.post(ctx, "/scan", scanRequest{Payload: payload, JID: jid}, &out); err != nil {
		return "", err
	}
	return out.JID, nil
}

// Devices lists the relay's paired devices.
func (c *HTTP) Devices(ctx context.Context) ([]DeviceInfo, error) {
	var out []DeviceInfo
	return out, c.getJSON(ctx, "/devices", &out)
}

func (c *HTTP) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *HTTP) do(req *http.Request, path string, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay %s %s: %s: %s", req.Method, path, resp.Status,
			strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
