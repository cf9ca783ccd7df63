package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wabridge/internal/app"
	"wabridge/internal/client"
	"wabridge/internal/domain"
)

func runCmd() *cobra.Command {
	var (
		sends  []string
		qrFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay, pairing when needed, and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := parseOutgoing(sends)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.ServeMetrics(gctx) })
			g.Go(func() error { return runLoop(gctx, cmd.OutOrStdout(), a, msgs, qrFile) })
			return g.Wait()
		},
	}
	cmd.Flags().StringArrayVar(&sends, "send", nil, "send dest=text once authenticated (repeatable)")
	cmd.Flags().StringVar(&qrFile, "qr-png", "", "also write the pairing code as a PNG to this path")
	return cmd
}

func runLoop(ctx context.Context, w io.Writer, a *app.App, msgs []outgoing, qrFile string) error {
	sub, err := connect(ctx, a)
	if err != nil {
		return err
	}
	defer sub.Close()

	sent := false
	for {
		select {
		case <-ctx.Done():
			a.Client.Disconnect()
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case client.PairingPayloadEvent:
				if err := printQR(w, ev.Payload, qrFile); err != nil {
					return err
				}
			case client.StateEvent:
				a.Log.Infof("Connection %s (epoch %d)", ev.State, ev.Epoch)
				if ev.State != domain.StateAuthenticated || sent {
					continue
				}
				sent = true
				fmt.Fprintf(w, "Connected as %s\n", a.Client.Status().JID)
				for _, m := range msgs {
					res := a.Client.SendMessage(m.to, m.text)
					if !res.Accepted {
						return fmt.Errorf("send to %s: %w", m.to, res.Err)
					}
					fmt.Fprintf(w, "Queued %s for %s\n", res.Entry.ID, m.to)
				}
			case client.MessageEvent:
				printMessage(w, ev.Message)
			case client.DeliveryEvent:
				if ev.Status == domain.DeliveryAcked {
					fmt.Fprintf(w, "Delivered %s\n", ev.Entry.ID)
				} else {
					fmt.Fprintf(w, "Failed %s: %v\n", ev.Entry.ID, ev.Err)
				}
			case client.ErrorEvent:
				if ev.Fatal {
					return ev.Err
				}
				a.Log.Warnf("%v", ev.Err)
			}
		}
	}
}
