package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/client"
	"wabridge/internal/domain"
)

func sendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <jid> <text>",
		Short: "Send one message and wait for the relay to acknowledge it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := connect(ctx, a)
			if err != nil {
				return err
			}
			defer sub.Close()
			defer a.Client.Disconnect()

			var id domain.MessageID
			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("no acknowledgement within %s", timeout)
				case ev, ok := <-sub.Events():
					if !ok {
						return errors.New("client stopped")
					}
					switch ev := ev.(type) {
					case client.PairingPayloadEvent:
						return errors.New("device is not paired; use run first")
					case client.StateEvent:
						if ev.State != domain.StateAuthenticated || id != "" {
							continue
						}
						res := a.Client.SendMessage(domain.JID(args[0]), args[1])
						if !res.Accepted {
							return res.Err
						}
						id = res.Entry.ID
					case client.DeliveryEvent:
						if ev.Entry.ID != id {
							continue
						}
						if ev.Status != domain.DeliveryAcked {
							return fmt.Errorf("delivery failed: %w", ev.Err)
						}
						fmt.Fprintf(cmd.OutOrStdout(), "Delivered %s\n", id)
						return nil
					case client.ErrorEvent:
						if ev.Fatal {
							return ev.Err
						}
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
