package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/safetrade/escrowd/internal/engine"
	"github.com/safetrade/escrowd/internal/escrow"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Database   string
	Buyer      string
	Seller     string
	PriceCents int64
	Quantity   int64
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a transaction in pending_payment",
		Long: `Create a new escrow transaction between a buyer and a seller.

Example:
  escrowd create --buyer u-42 --seller u-7 --price-cents 15000 --db ./escrowd.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Buyer, "buyer", "", "buyer user ID (required)")
	cmd.Flags().StringVar(&opts.Seller, "seller", "", "seller user ID (required)")
	cmd.Flags().Int64Var(&opts.PriceCents, "price-cents", 0, "price in cents (required)")
	cmd.Flags().Int64Var(&opts.Quantity, "quantity", 1, "quantity")
	_ = cmd.MarkFlagRequired("buyer")
	_ = cmd.MarkFlagRequired("seller")
	_ = cmd.MarkFlagRequired("price-cents")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	txn, err := a.transitioner.Create(ctx, engine.CreateParams{
		BuyerID:    opts.Buyer,
		SellerID:   opts.Seller,
		PriceCents: opts.PriceCents,
		Quantity:   opts.Quantity,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create transaction", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]string{
			"id":     txn.ID,
			"status": string(txn.Status),
		})
	}
	return formatter.Success(fmt.Sprintf("created %s (%s)", txn.ID, txn.Status))
}

// TransitionOptions holds flags for the transition command.
type TransitionOptions struct {
	*RootOptions
	Database string
	Actor    string
	Role     string
	Notes    string
	Tracking string
	Carrier  string
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transition <transaction-id> <status>",
		Short: "Apply a user transition to a transaction",
		Long: `Request a status change on behalf of a buyer, seller or staff member.
The transition table decides whether the edge is permitted for the role.

Example:
  escrowd transition 0192d5a0-... payment_received --actor u-42 --role buyer
  escrowd transition 0192d5a0-... shipped --actor u-7 --role seller \
      --tracking 1Z999AA10123456784 --carrier ups`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "acting user ID (required)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "actor role: buyer, seller or staff (required)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text note for the history entry")
	cmd.Flags().StringVar(&opts.Tracking, "tracking", "", "tracking number (required for shipped)")
	cmd.Flags().StringVar(&opts.Carrier, "carrier", "", "shipping carrier (required for shipped)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func runTransition(opts *TransitionOptions, id, status string, cmd *cobra.Command) error {
	role := escrow.Role(opts.Role)
	switch role {
	case escrow.RoleBuyer, escrow.RoleSeller, escrow.RoleStaff:
	default:
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid role %q: must be buyer, seller or staff", opts.Role))
	}

	a, err := newApp(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	txn, err := a.transitioner.UserTransition(ctx, id,
		escrow.Actor{ID: opts.Actor, Role: role},
		escrow.Status(status),
		engine.TransitionParams{
			Notes:           opts.Notes,
			TrackingNumber:  opts.Tracking,
			ShippingCarrier: opts.Carrier,
		},
	)
	if err != nil {
		return WrapExitError(ExitFailure, "transition rejected", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		out := map[string]string{
			"id":     txn.ID,
			"status": string(txn.Status),
		}
		if txn.NextAutoTransitionAt != nil {
			out["next_auto_transition_at"] = txn.NextAutoTransitionAt.Format(time.RFC3339)
		}
		return formatter.Success(out)
	}

	msg := fmt.Sprintf("%s -> %s", txn.ID, txn.Status)
	if txn.NextAutoTransitionAt != nil {
		msg += fmt.Sprintf(" (auto-advances %s)", txn.NextAutoTransitionAt.Format(time.RFC3339))
	}
	return formatter.Success(msg)
}
