package main

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/1ureka/phonelink/internal/relay"
	"github.com/1ureka/phonelink/internal/util"
)

func relayCmd() *cobra.Command {
	var (
		listen    string
		idle      time.Duration
		rateLimit float64
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := relay.Default
			opts.IdleTimeout = idle
			opts.RateLimit = rate.Limit(rateLimit)

			srv := relay.New(opts)
			util.StartStatsReporter(cmd.Context(), srv.Stats(), 10*time.Second)
			if err := srv.ListenAndServe(cmd.Context(), listen); err != nil {
				return err
			}
			util.LogInfo("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":3000", "address to listen on")
	cmd.Flags().DurationVar(&idle, "idle-timeout", relay.Default.IdleTimeout, "close connections idle this long")
	cmd.Flags().Float64Var(&rateLimit, "rate", float64(relay.Default.RateLimit), "inbound frames per second per connection")
	return cmd
}
