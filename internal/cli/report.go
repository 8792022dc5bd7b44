package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/safetrade/escrowd/internal/escrow"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <transaction-id>",
		Short: "Show one transaction and its status history",
		Long: `Print a transaction's current state, pending automatic transition and
full status history.

Example:
  escrowd report 0192d5a0-0000-7000-8000-000000000001 --db ./escrowd.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

// transactionReport is the JSON payload for the report command.
type transactionReport struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	BuyerID         string  `json:"buyer_id"`
	SellerID        string  `json:"seller_id"`
	PriceCents      int64   `json:"price_cents"`
	Quantity        int64   `json:"quantity"`
	Version         int64   `json:"version"`
	TrackingNumber  string  `json:"tracking_number,omitempty"`
	ShippingCarrier string  `json:"shipping_carrier,omitempty"`
	NextAuto        *string `json:"next_auto_transition_at,omitempty"`
	Scheduled       bool    `json:"is_auto_transition_scheduled"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`

	History []historyReport `json:"history"`
}

type historyReport struct {
	Status     string `json:"status"`
	Actor      string `json:"actor"`
	Notes      string `json:"notes,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func runReport(opts *ReportOptions, id string, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	txn, err := a.store.Read(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transaction", err)
	}
	history, err := a.store.History(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(buildReport(txn, history))
	}
	return formatter.Success(strings.TrimRight(renderReport(txn, history), "\n"))
}

func buildReport(txn escrow.Transaction, history []escrow.HistoryEntry) transactionReport {
	r := transactionReport{
		ID:              txn.ID,
		Status:          string(txn.Status),
		BuyerID:         txn.BuyerID,
		SellerID:        txn.SellerID,
		PriceCents:      txn.PriceCents,
		Quantity:        txn.Quantity,
		Version:         txn.Version,
		TrackingNumber:  txn.TrackingNumber,
		ShippingCarrier: txn.ShippingCarrier,
		Scheduled:       txn.IsAutoTransitionScheduled,
		CreatedAt:       txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       txn.UpdatedAt.Format(time.RFC3339),
	}
	if txn.NextAutoTransitionAt != nil {
		s := txn.NextAutoTransitionAt.Format(time.RFC3339)
		r.NextAuto = &s
	}
	for _, e := range history {
		r.History = append(r.History, historyReport{
			Status:     string(e.Status),
			Actor:      e.Actor,
			Notes:      e.Notes,
			RecordedAt: e.RecordedAt.Format(time.RFC3339),
		})
	}
	return r
}

func renderReport(txn escrow.Transaction, history []escrow.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction %s\n", txn.ID)
	fmt.Fprintf(&b, "  status        %s\n", txn.Status)
	fmt.Fprintf(&b, "  buyer         %s\n", txn.BuyerID)
	fmt.Fprintf(&b, "  seller        %s\n", txn.SellerID)
	fmt.Fprintf(&b, "  price         %d cents x %d\n", txn.PriceCents, txn.Quantity)
	fmt.Fprintf(&b, "  version       %d\n", txn.Version)
	if txn.TrackingNumber != "" {
		fmt.Fprintf(&b, "  tracking      %s (%s)\n", txn.TrackingNumber, txn.ShippingCarrier)
	}
	if txn.NextAutoTransitionAt != nil {
		fmt.Fprintf(&b, "  next auto     %s\n", txn.NextAutoTransitionAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "  next auto     none\n")
	}
	fmt.Fprintf(&b, "  created       %s\n", txn.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "  updated       %s\n", txn.UpdatedAt.Format(time.RFC3339))

	b.WriteString("\nhistory\n")
	for _, e := range history {
		fmt.Fprintf(&b, "  %s  %-18s %s", e.RecordedAt.Format(time.RFC3339), e.Status, e.Actor)
		if e.Notes != "" {
			fmt.Fprintf(&b, "  %q", e.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}
