package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wabridge/internal/services/identity"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate the device identity and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Passphrase != "" {
				if err := identity.CheckPassphrase(cfg.Passphrase); err != nil {
					return err
				}
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, fp, err := a.IDs.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created in %s.\nFingerprint: %s\n", a.Store.Dir(), fp)
			return nil
		},
	}
}
