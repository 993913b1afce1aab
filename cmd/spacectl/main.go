// Command spacectl is the command-line driver for the space runtime: it
// exercises space and run lifecycle end-to-end without standing up the
// out-of-scope HTTP surface, the way `cagent exec` drives an agent session
// straight from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "spacectl",
		Short:         "Manage isolated, policy-governed container spaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSpaceCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}
