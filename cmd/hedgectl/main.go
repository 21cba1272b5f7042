package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hedge/cmd/internal/passphrase"
)

const secretEnv = "HEDGE_JWT_SECRET"

type rootOptions struct {
	secret func() (string, error)
	now    func() time.Time
}

func main() {
	opts := rootOptions{
		secret: passphrase.NewSource(secretEnv, "JWT signing secret").Get,
		now:    time.Now,
	}
	if err := newRootCommand(opts).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(opts rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "hedgectl",
		Short:         "Operator tooling for the hedge lending market",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newAPYCurveCommand(),
		newTriIndexCommand(),
		newAddressCommand(),
		newTokenCommand(opts),
		newExportCommand(),
		newLeaderboardCommand(),
	)
	return root
}
