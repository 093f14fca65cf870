// Package main provides the feedctl CLI, a client for feedgate servers.
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lysyi3m/feedgate/app/client"
	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/payment"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	server    string
	syncRules bool
	debug     bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:          "feedctl",
		Short:        "Query and pay for feedgate feeds",
		Long:         "feedctl checks pricing, builds request URLs and fetches feeds from a feedgate server, paying for them with a local wallet when needed.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.SetVersionTemplate("feedctl version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", cmp.Or(os.Getenv("FEEDGATE_URL"), "http://localhost:8080"), "feedgate server URL (env FEEDGATE_URL)")
	rootCmd.PersistentFlags().BoolVar(&opts.syncRules, "sync-rules", false, "Fetch pricing rules from the server before classifying")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newIsFreeCmd(opts))
	rootCmd.AddCommand(newFingerprintCmd(opts))
	rootCmd.AddCommand(newURLCmd(opts))
	rootCmd.AddCommand(newEstimateCmd(opts))
	rootCmd.AddCommand(newFetchCmd(opts))

	return rootCmd
}

// addParamFlags registers the request parameter flags on cmd.
func addParamFlags(cmd *cobra.Command, p *feed.RequestParams) {
	cmd.Flags().IntVarP(&p.Limit, "limit", "l", 0, "Number of items (0 uses the connector default)")
	cmd.Flags().BoolVarP(&p.All, "all", "a", false, "Fetch every item")
	cmd.Flags().BoolVar(&p.IncludeReplies, "replies", false, "Include replies")
	cmd.Flags().BoolVar(&p.IncludeParents, "parents", false, "Resolve reply parents")
	cmd.Flags().BoolVar(&p.IncludeReactions, "reactions", false, "Include reaction counts")
	cmd.Flags().BoolVar(&p.IncludeContent, "content", false, "Include rich content")
	cmd.Flags().Var((*sortFlag)(&p.SortOrder), "sort", "Sort order (newest, oldest)")
}

type sortFlag feed.SortOrder

func (f *sortFlag) String() string {
	return string(*f)
}

func (f *sortFlag) Set(v string) error {
	switch feed.SortOrder(v) {
	case feed.SortNewest, feed.SortOldest:
		*f = sortFlag(v)
		return nil
	}
	return fmt.Errorf("must be %q or %q", feed.SortNewest, feed.SortOldest)
}

func (f *sortFlag) Type() string {
	return "order"
}

// newClient builds a client for the server, optionally with a wallet and
// server-synced pricing rules.
func newClient(ctx context.Context, opts *globalOptions, withWallet bool) (*client.Client, error) {
	var clientOpts []client.Option

	if withWallet {
		if key := os.Getenv("FEEDGATE_WALLET_KEY"); key != "" {
			var maxAmount int64
			if raw := os.Getenv("FEEDGATE_MAX_PAYMENT"); raw != "" {
				parsed, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid FEEDGATE_MAX_PAYMENT: %w", err)
				}
				maxAmount = parsed
			}
			signer, err := payment.NewWalletSigner(key, maxAmount)
			if err != nil {
				return nil, err
			}
			slog.Debug("Wallet loaded", "address", signer.Address(), "max_amount", maxAmount)
			clientOpts = append(clientOpts, client.WithSigner(signer))
		}
	}

	c, err := client.New(opts.server, clientOpts...)
	if err != nil {
		return nil, err
	}

	if opts.syncRules {
		if err := c.SyncRules(ctx); err != nil {
			return nil, fmt.Errorf("failed to sync pricing rules: %w", err)
		}
	}
	return c, nil
}

func requestArgs(args []string, p feed.RequestParams) (string, feed.RequestParams) {
	p.Identifier = args[1]
	return args[0], p
}

func newIsFreeCmd(opts *globalOptions) *cobra.Command {
	var params feed.RequestParams

	cmd := &cobra.Command{
		Use:   "isfree <connector> <identifier>",
		Short: "Report whether a request is in the free tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context(), opts, false)
			if err != nil {
				return err
			}

			connector, p := requestArgs(args, params)
			fmt.Fprintln(cmd.OutOrStdout(), c.IsFreeTier(connector, p))
			return nil
		},
	}

	addParamFlags(cmd, &params)
	return cmd
}

func newFingerprintCmd(opts *globalOptions) *cobra.Command {
	var params feed.RequestParams

	cmd := &cobra.Command{
		Use:   "fingerprint <connector> <identifier>",
		Short: "Print the pricing fingerprint of a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context(), opts, false)
			if err != nil {
				return err
			}

			connector, p := requestArgs(args, params)
			fmt.Fprintln(cmd.OutOrStdout(), c.Fingerprint(connector, p))
			return nil
		},
	}

	addParamFlags(cmd, &params)
	return cmd
}

func newURLCmd(opts *globalOptions) *cobra.Command {
	var params feed.RequestParams

	cmd := &cobra.Command{
		Use:   "url <connector> <identifier>",
		Short: "Print the fetch URL of a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context(), opts, false)
			if err != nil {
				return err
			}

			connector, p := requestArgs(args, params)
			fmt.Fprintln(cmd.OutOrStdout(), c.BuildURL(connector, p))
			return nil
		},
	}

	addParamFlags(cmd, &params)
	return cmd
}

func newEstimateCmd(opts *globalOptions) *cobra.Command {
	var params feed.RequestParams

	cmd := &cobra.Command{
		Use:   "estimate <connector> <identifier>",
		Short: "Price a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			c, err := newClient(ctx, opts, false)
			if err != nil {
				return err
			}

			connector, p := requestArgs(args, params)
			quote, err := c.Estimate(ctx, connector, p)
			if err != nil {
				return err
			}
			return writeJSON(cmd, quote)
		},
	}

	addParamFlags(cmd, &params)
	return cmd
}

func newFetchCmd(opts *globalOptions) *cobra.Command {
	var params feed.RequestParams
	var format string

	cmd := &cobra.Command{
		Use:   "fetch <connector> <identifier>",
		Short: "Fetch a feed, paying for it when required",
		Long:  "Fetch a feed. Paid requests are signed with the wallet in FEEDGATE_WALLET_KEY, capped by FEEDGATE_MAX_PAYMENT atomic units when set.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("invalid format %q: must be 'json' or 'text'", format)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			c, err := newClient(ctx, opts, true)
			if err != nil {
				return err
			}

			connector, p := requestArgs(args, params)
			result, err := c.Fetch(ctx, connector, p)
			if err != nil {
				return err
			}

			if format == "text" {
				fmt.Fprint(cmd.OutOrStdout(), feed.NewTextRenderer().Run(result))
				return nil
			}
			return writeJSON(cmd, result)
		},
	}

	addParamFlags(cmd, &params)
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, text)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
