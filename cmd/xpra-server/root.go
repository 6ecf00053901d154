package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var Fatal = FatalErrorHandler

// NewRootCmd builds the xpra-server command tree: serve runs the server
// and version prints the build version.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   getCommandLineExecutable(),
		Short: "xpra-go relay server",
		Long:  "Remote-display relay server: transport, hello negotiation, and subsystem dispatch.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

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
