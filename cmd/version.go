// File: cmd/version.go
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/xkilldash9x/lancet-cli/cmd.Version=1.0.0"
var Version = "1.0"

// newVersionCmd mirrors the --version flag as a subcommand for script use.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the Lancet version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
