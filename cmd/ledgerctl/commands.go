package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mamadbah2/flockledger/pkg/clients/ledger"
)

type options struct {
	server    string
	farmID    string
	actorID   string
	actorName string
	timeout   time.Duration
}

func (o *options) client() (*ledger.APIClient, error) {
	if o.farmID == "" {
		return nil, fmt.Errorf("--farm is required (or set LEDGER_FARM_ID)")
	}
	return ledger.NewClient(ledger.Config{
		BaseURL:   o.server,
		FarmID:    o.farmID,
		ActorID:   o.actorID,
		ActorName: o.actorName,
		Timeout:   o.timeout,
	}), nil
}

// rootCommand creates and returns the ledgerctl command tree.
func rootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operate the flock ledger API",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("LEDGER_URL", "http://localhost:8080"), "Ledger API base URL")
	flags.StringVar(&opts.farmID, "farm", os.Getenv("LEDGER_FARM_ID"), "Farm id sent as X-Farm-ID")
	flags.StringVar(&opts.actorID, "actor-id", os.Getenv("LEDGER_ACTOR_ID"), "Actor id recorded in the audit trail")
	flags.StringVar(&opts.actorName, "actor-name", os.Getenv("LEDGER_ACTOR_NAME"), "Actor name recorded in the audit trail")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "Request timeout")

	rootCmd.AddCommand(
		batchCommand(opts),
		houseCommand(opts),
		allocateCommand(opts),
		allocationCommand(opts),
		transferCommand(opts),
	)
	return rootCmd
}

func batchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Manage batches"}

	var name string
	var original int
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a batch",
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, cmd *cobra.Command, _ []string) (any, error) {
			return c.CreateBatch(ctx, name, original)
		}),
	}
	create.Flags().StringVar(&name, "name", "", "Batch name")
	create.Flags().IntVar(&original, "original", 0, "Original headcount")
	_ = create.MarkFlagRequired("original")

	var dead, culled, offlaid int
	var reason, notes string
	losses := &cobra.Command{
		Use:   "losses BATCH_ID",
		Short: "Record deaths, culls and off-lay removals",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, cmd *cobra.Command, args []string) (any, error) {
			req := ledger.LossRequest{Reason: reason, Notes: notes}
			if cmd.Flags().Changed("dead") {
				req.Dead = &dead
			}
			if cmd.Flags().Changed("culled") {
				req.Culled = &culled
			}
			if cmd.Flags().Changed("offlaid") {
				req.Offlaid = &offlaid
			}
			return c.ApplyLosses(ctx, args[0], req)
		}),
	}
	losses.Flags().IntVar(&dead, "dead", 0, "Birds found dead")
	losses.Flags().IntVar(&culled, "culled", 0, "Birds culled")
	losses.Flags().IntVar(&offlaid, "offlaid", 0, "Birds removed from lay")
	losses.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")
	losses.Flags().StringVar(&notes, "notes", "", "Free-form notes")

	availability := &cobra.Command{
		Use:   "availability BATCH_ID",
		Short: "Show current and unallocated headcounts",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			return c.Availability(ctx, args[0])
		}),
	}

	archive := &cobra.Command{
		Use:   "archive BATCH_ID",
		Short: "Archive a batch with nothing allocated",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			return c.Archive(ctx, args[0])
		}),
	}

	var limit int
	history := &cobra.Command{
		Use:   "history BATCH_ID",
		Short: "List audit entries newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			return c.History(ctx, args[0], limit)
		}),
	}
	history.Flags().IntVar(&limit, "limit", 0, "Maximum entries (server default 50)")

	allocations := &cobra.Command{
		Use:   "allocations BATCH_ID",
		Short: "List a batch's allocations",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			return c.ListForBatch(ctx, args[0])
		}),
	}

	cmd.AddCommand(create, losses, availability, archive, history, allocations)
	return cmd
}

func houseCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "house", Short: "Manage houses"}

	var name string
	var capacity int
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a house",
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, cmd *cobra.Command, _ []string) (any, error) {
			if !cmd.Flags().Changed("capacity") {
				return c.CreateHouse(ctx, name, nil)
			}
			return c.CreateHouse(ctx, name, &capacity)
		}),
	}
	create.Flags().StringVar(&name, "name", "", "House name")
	create.Flags().IntVar(&capacity, "capacity", 0, "Maximum birds; omit for unbounded")

	allocations := &cobra.Command{
		Use:   "allocations HOUSE_ID",
		Short: "List a house's allocations",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			return c.ListForHouse(ctx, args[0])
		}),
	}

	cmd.AddCommand(create, allocations)
	return cmd
}

func allocateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "allocate BATCH_ID HOUSE_ID QUANTITY",
		Short: "Place birds of a batch in a house",
		Args:  cobra.ExactArgs(3),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			qty, err := quantityArg(args[2])
			if err != nil {
				return nil, err
			}
			return c.Allocate(ctx, args[0], args[1], qty)
		}),
	}
}

func allocationCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "allocation", Short: "Correct allocations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set ALLOCATION_ID QUANTITY",
		Short: "Set an allocation's quantity; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			qty, err := quantityArg(args[1])
			if err != nil {
				return nil, err
			}
			return c.UpdateAllocation(ctx, args[0], qty)
		}),
	})
	return cmd
}

func transferCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer BATCH_ID FROM_HOUSE_ID TO_HOUSE_ID QUANTITY",
		Short: "Move birds of a batch between houses",
		Args:  cobra.ExactArgs(4),
		RunE: withClient(opts, func(ctx context.Context, c *ledger.APIClient, _ *cobra.Command, args []string) (any, error) {
			qty, err := quantityArg(args[3])
			if err != nil {
				return nil, err
			}
			return c.Transfer(ctx, args[0], args[1], args[2], qty)
		}),
	}
}

type action func(ctx context.Context, c *ledger.APIClient, cmd *cobra.Command, args []string) (any, error)

// withClient builds the client, runs fn and prints its result as JSON.
func withClient(opts *options, fn action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := opts.client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()

		out, err := fn(ctx, c, cmd, args)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func quantityArg(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("quantity must be an integer, got %q", raw)
	}
	return n, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
