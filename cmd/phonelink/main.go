// Phonelink CLI entry point.
//
// Phonelink pushes contacts from a desktop to a phone over an end-to-end
// encrypted channel. Both ends meet on a relay that only forwards opaque
// frames; the key travels in the fragment of the invite link.
//
//	phonelink relay --listen :3000      run a relay
//	phonelink share                     desktop side: print an invite, push contacts read from stdin
//	phonelink join <invite-link>        phone side: show contacts, send call results read from stdin
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/util"
)

var version = "dev"

// flags shared by share and join.
var (
	debugMode bool
	relayURL  string
	iceURL    string
	mode      string
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "phonelink",
		Short:         "Encrypted desktop-to-phone contact channel",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugMode {
				util.EnableDebug()
			}
			pterm.Info.Printfln("Phonelink — v%s", version)
			pterm.Println()
		},
	}

	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	root.AddCommand(relayCmd(), shareCmd(), joinCmd())
	return root
}

// clientFlags registers the flags every channel endpoint takes.
func clientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&relayURL, "relay", config.DefaultRelayURL, "relay URL (host, http(s) or ws(s))")
	cmd.Flags().StringVar(&mode, "mode", string(config.ModeWebSocket), "transport: websocket or webrtc")
	cmd.Flags().StringVar(&iceURL, "ice-url", "", "HTTPS endpoint returning ICE servers (webrtc mode)")
}

// baseConfig builds and validates the config for role-specific commands.
func baseConfig(mutate func(*config.Config)) (config.Config, error) {
	cfg := config.Default()
	cfg.RelayURL = relayURL
	cfg.ConnectBase = ""
	cfg.ICEURL = iceURL
	cfg.Mode = config.Mode(mode)
	cfg.Debug = debugMode
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg, cfg.Validate()
}
