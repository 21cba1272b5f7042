package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hedge/crypto"
	"hedge/services/lendingd/server"
)

func newTokenCommand(opts rootOptions) *cobra.Command {
	var (
		subject  string
		scopes   []string
		issuer   string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for the lendingd API",
		Long:  "Mint an HS256 bearer token. The signing secret is read from " + secretEnv + " or prompted for.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := crypto.ParseAddress(strings.TrimSpace(subject), crypto.AccountPrefix)
			if err != nil {
				return fmt.Errorf("subject: %w", err)
			}
			for _, scope := range scopes {
				if scope != server.ScopeWrite && scope != server.ScopeAdmin {
					return fmt.Errorf("unknown scope %q", scope)
				}
			}
			secret, err := opts.secret()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(secret, issuer, audience, sub, scopes, ttl, opts.now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "account the token acts for")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeWrite}, "granted scopes")
	cmd.Flags().StringVar(&issuer, "issuer", "hedge", "iss claim")
	cmd.Flags().StringVar(&audience, "audience", "lendingd", "aud claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime, zero for no expiry")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
