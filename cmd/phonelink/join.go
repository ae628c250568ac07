package main

import (
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/phonelink/internal/app"
	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/invite"
	"github.com/1ureka/phonelink/internal/util"
)

func joinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join [invite-link]",
		Short: "Join a shared session (reads one call result per line from stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(func(c *config.Config) { c.Role = channel.Responder })
			if err != nil {
				return err
			}

			var link string
			if len(args) == 1 {
				link = args[0]
			} else {
				link = askInvite()
			}

			err = app.Join(cmd.Context(), app.JoinOptions{
				Config: cfg,
				Invite: link,
				In:     os.Stdin,
				Out:    os.Stdout,

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
	return cmd
}

// askInvite prompts until a link that parses is entered.
func askInvite() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Invite link (https://.../connect?...#...)").
			Show()

		if _, err := invite.Parse(raw); err == nil {
			pterm.Println()
			return strings.TrimSpace(raw)
		}

		pterm.Println()
		util.LogWarning("invalid invite link: please paste the whole link")
	}
}
