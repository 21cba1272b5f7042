package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"hedge/crypto"
	"hedge/native/lending"
)

func bpsPercent(bps uint16) string {
	return decimal.New(int64(bps), -2).StringFixed(2) + "%"
}

func newAPYCurveCommand() *cobra.Command {
	var (
		bootstrapPath string
		mint          string
		points        int
	)
	cmd := &cobra.Command{
		Use:   "apy-curve",
		Short: "Print the borrow and deposit APY curves of a bootstrap file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			boot, err := lending.LoadBootstrap(bootstrapPath)
			if err != nil {
				return fmt.Errorf("load bootstrap: %w", err)
			}
			out := cmd.OutOrStdout()
			printed := 0
			for _, asset := range boot.Assets {
				if mint != "" && asset.Mint != mint {
					continue
				}
				fmt.Fprintf(out, "%s (kink %s, reserve %s)\n", asset.Mint, bpsPercent(asset.Rate.KinkUtilBps), bpsPercent(asset.Rate.ReserveFactorBps))
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "UTILIZATION\tBORROW APY\tDEPOSIT APY\t")
				for _, p := range asset.Rate.Curve(points) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t\n", bpsPercent(p.UtilizationBps), bpsPercent(p.BorrowAPYBps), bpsPercent(p.DepositAPYBps))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintln(out)
				printed++
			}
			if printed == 0 {
				return fmt.Errorf("no asset matches %q", mint)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bootstrapPath, "bootstrap", "services/lendingd/bootstrap.example.toml", "market bootstrap TOML")
	cmd.Flags().StringVar(&mint, "mint", "", "only print this mint")
	cmd.Flags().IntVar(&points, "points", 10, "curve segments between 0% and 100% utilization")
	return cmd
}

func newTriIndexCommand() *cobra.Command {
	var dim uint16
	cmd := &cobra.Command{
		Use:   "tri-index <i> <j>",
		Short: "Print the risk matrix slot of an asset pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			j, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			if dim == 0 || uint16(i) >= dim || uint16(j) >= dim {
				return errors.New("indices must be below --dim")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slot %d of %d\n", lending.TriIndex(uint16(i), uint16(j), dim), lending.PairCount(dim))
			return nil
		},
	}
	cmd.Flags().Uint16Var(&dim, "dim", lending.MaxAssets, "risk matrix dimension")
	return cmd
}

func newAddressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Address utilities",
	}
	var authority, mint, owner string
	derive := &cobra.Command{
		Use:   "derive",
		Short: "Derive the market, pool, vault and obligation addresses of an authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth, err := crypto.ParseAddress(authority, crypto.AccountPrefix)
			if err != nil {
				return fmt.Errorf("authority: %w", err)
			}
			market := lending.MarketAddress(auth)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "market      %s\n", market)
			if mint != "" {
				m, err := crypto.ParseAddress(mint, crypto.MintPrefix)
				if err != nil {
					return fmt.Errorf("mint: %w", err)
				}
				fmt.Fprintf(out, "pool        %s\n", lending.PoolAddress(market, m))
				fmt.Fprintf(out, "vault       %s\n", lending.VaultAddress(market, m))
			}
			if owner != "" {
				o, err := crypto.ParseAddress(owner, crypto.AccountPrefix)
				if err != nil {
					return fmt.Errorf("owner: %w", err)
				}
				fmt.Fprintf(out, "obligation  %s\n", lending.ObligationAddress(market, o))
			}
			return nil
		},
	}
	derive.Flags().StringVar(&authority, "authority", "", "market authority account")
	derive.Flags().StringVar(&mint, "mint", "", "asset mint")
	derive.Flags().StringVar(&owner, "owner", "", "obligation owner account")
	_ = derive.MarkFlagRequired("authority")
	cmd.AddCommand(derive)
	return cmd
}
