package commands

import (
	"os"

	"github.com/spf13/cobra"

	"wabridge/internal/app"
)

var (
	cfgFile string
	cfg     app.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:           "wabridge",
		Short:         "Multi-device messaging client for a pairing relay",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = app.LoadConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			return os.MkdirAll(cfg.Home, 0o700)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default searches the user and system config dirs)")
	pf.String("home", "", "session directory (default ~/.wabridge)")
	pf.String("relay", "", "relay websocket URL (e.g. ws://127.0.0.1:8080/ws)")
	pf.StringP("passphrase", "p", "", "passphrase protecting the session file")
	pf.String("debuglevel", "", "log level, or subsys=level pairs separated by commas")
	pf.String("log-file", "", "also log to this rotated file")
	pf.String("metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(initCmd(), fingerprintCmd(), runCmd(), sendCmd(), statusCmd(), clearCmd(), configCmd())
	return root.Execute()
}

// openApp builds the app graph for a subcommand. Logs go to stderr so
// stdout only carries command output.
func openApp(cmd *cobra.Command) (*app.App, error) {
	return app.NewWire(cmd.Context(), cfg, os.Stderr)
}
