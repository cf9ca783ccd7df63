package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/domain"
	"wabridge/internal/logging"
	"wabridge/internal/relay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		listen     string
		debugLevel string
		logFile    string
		refTTL     time.Duration
		dedup      int
	)
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Development pairing relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := logging.NewBackend(logFile, debugLevel, os.Stdout)
			if err != nil {
				return err
			}
			defer logs.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			srv := relay.New(relay.Config{
				RefTTL:      refTTL,
				DedupWindow: dedup,
				Log:         logs.Logger(logging.SubsysRelay),
			})
			return srv.Run(ctx, lis)
		},
	}
	f := root.Flags()
	f.StringVar(&listen, "listen", "127.0.0.1:8080", "address to listen on")
	f.StringVar(&debugLevel, "debuglevel", "info", "log level, or subsys=level pairs separated by commas")
	f.StringVar(&logFile, "log-file", "", "also log to this rotated file")
	f.DurationVar(&refTTL, "ref-ttl", relay.DefaultRefTTL, "how long an unscanned pairing ref stays valid")
	f.IntVar(&dedup, "dedup-window", relay.DefaultDedupWindow, "message ids remembered per device for dedup")

	var url string
	root.PersistentFlags().StringVar(&url, "url", "http://127.0.0.1:8080", "relay base URL for the control commands")

	var jid string
	scan := &cobra.Command{
		Use:   "scan <payload>",
		Short: "Submit a pairing payload as the phone would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			got, err := relay.NewHTTP(url).Scan(ctx, args[0], domain.JID(jid))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paired %s\n", got)
			return nil
		},
	}
	scan.Flags().StringVar(&jid, "jid", "", "jid to assign (default a random one)")

	devices := &cobra.Command{
		Use:   "devices",
		Short: "List the paired devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			list, err := relay.NewHTTP(url).Devices(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}

	root.AddCommand(scan, devices)
	return root
}
