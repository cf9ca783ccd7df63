package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wabridge/internal/app"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var system, force bool
	initC := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = app.ConfigPath(system); err != nil {
					return err
				}
			}
			if err := app.WriteConfigFile(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initC.Flags().BoolVar(&system, "system", false, "write the system-wide file instead of the user one")
	initC.Flags().BoolVar(&force, "force", false, "replace an existing file")
	cmd.AddCommand(initC)
	return cmd
}
