package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"wabridge/internal/app"
	"wabridge/internal/client"
	"wabridge/internal/domain"
)

// outgoing is a message given on the command line as dest=text.
type outgoing struct {
	to   domain.JID
	text string
}

func parseOutgoing(specs []string) ([]outgoing, error) {
	out := make([]outgoing, 0, len(specs))
	for _, s := range specs {
		to, text, ok := strings.Cut(s, "=")
		if !ok || to == "" {
			return nil, fmt.Errorf("--send %q: want dest=text", s)
		}
		out = append(out, outgoing{to: domain.JID(to), text: text})
	}
	return out, nil
}

// printQR renders payload as a terminal QR code followed by its text. A
// PNG copy is written to pngPath when set.
func printQR(w io.Writer, payload, pngPath string) error {
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render pairing code: %w", err)
	}
	fmt.Fprintf(w, "Scan this code with the phone app:\n%s\n%s\n", q.ToSmallString(false), payload)
	if pngPath != "" {
		if err := q.WriteFile(256, pngPath); err != nil {
			return fmt.Errorf("write pairing code: %w", err)
		}
	}
	return nil
}

func printMessage(w io.Writer, m domain.InboundMessage) {
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.From, m.Text)
}

// connect starts the client, subscribes and begins connecting. The caller
// closes the subscription.
func connect(ctx context.Context, a *app.App) (*client.Subscription, error) {
	if err := a.Client.Start(ctx); err != nil {
		return nil, err
	}
	sub := a.Client.Subscribe(64)
	if err := a.Client.Connect(); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}
