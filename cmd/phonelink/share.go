package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/phonelink/internal/app"
	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/util"
)

func shareCmd() *cobra.Command {
	var (
		connectBase string
		stateDir    string
		passphrase  string
		yourName    string
		resultCodes []string
	)
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Share contacts with a phone (reads one JSON contact per line from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(func(c *config.Config) {
				c.Role = channel.Initiator
				c.ConnectBase = connectBase
				c.StateDir = stateDir
			})
			if err != nil {
				return err
			}

			err = app.Share(cmd.Context(), app.ShareOptions{
				Config:      cfg,
				Passphrase:  passphrase,
				Version:     version,
				YourName:    yourName,
				ResultCodes: resultCodes,
				In:          os.Stdin,
				Out:         os.Stdout,
				OnInvite:    printInvite,

				ConfirmRetry: confirmRetry(),
			})
			if err != nil {
				return err
			}
			util.LogInfo("session closed")
			return nil
		},
	}
	clientFlags(cmd)
	cmd.Flags().StringVar(&connectBase, "connect-base", "", "origin of the connect page (default: derived from --relay)")
	cmd.Flags().StringVar(&stateDir, "state-dir", config.DefaultStateDir(), "where the sealed identity is kept")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "keep the channel across restarts, sealed with this passphrase")
	cmd.Flags().StringVar(&yourName, "name", "", "your name, shown on the phone")
	cmd.Flags().StringSliceVar(&resultCodes, "result", []string{"Contacted", "Not home", "Refused"}, "call result choices offered on the phone")
	return cmd
}

// printInvite shows the link the phone has to open.
func printInvite(link string) {
	pterm.DefaultBox.
		WithTitle("Open on your phone").
		Println(link)
	pterm.Println()
	pterm.Info.Println("waiting for the phone...")
}
