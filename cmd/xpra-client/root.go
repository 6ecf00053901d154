package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var Fatal = FatalErrorHandler

// NewRootCmd builds the diagnostic client's command tree. This is a
// thin test/troubleshooting peer, not a display client — rendering
// received window/pixel data is a GUI collaborator's job (spec.md §1
// Non-goals).
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   getCommandLineExecutable(),
		Short: "xpra-go diagnostic client",
		Long:  "Connects to a relay server, completes hello negotiation, and exercises ping/round-trip diagnostics.",
	}
	rootCmd.AddCommand(newConnectCmd())
	return rootCmd
}

func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())
	rootCmd.SetOutput(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		Fatal(rootCmd, err.Error(), 1)
	}
}
