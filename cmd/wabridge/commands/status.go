package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"wabridge/internal/crypto"
	"wabridge/internal/store"
)

func statusCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			rec, err := a.Store.Load()
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(w, "No session. Run init or run to create one.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "Session:     %s\n", a.Store.Dir())
			fmt.Fprintf(w, "Fingerprint: %s\n", crypto.Fingerprint(rec.Identity.XPub))
			if !rec.Paired() {
				fmt.Fprintln(w, "Paired:      no")
				return nil
			}
			fmt.Fprintf(w, "Paired:      %s\n", time.Unix(rec.PairedUTC, 0).Format(time.RFC3339))
			fmt.Fprintf(w, "JID:         %s\n", rec.JID)
			if dump {
				cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, MaxDepth: 3}
				fmt.Fprintln(w, cfg.Sdump(rec.Sessions))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "also dump the ratchet session state")
	return cmd
}
