package main

import (
	"os"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// confirmRetry returns the prompt shown after the connection failed for
// good, or nil when there is no keyboard to answer it. A terminal stdin is
// already owned by the session's line reader, so the prompt is only offered
// when session input is piped and stdout is a terminal.
func confirmRetry() func(err error) bool {
	if term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return func(err error) bool {
		pterm.Println()
		pterm.Error.Printfln("connection failed: %v", err)
		ok, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText("Reconnect?").
			WithDefaultValue(true).
			Show()
		pterm.Println()
		return ok
	}
}
