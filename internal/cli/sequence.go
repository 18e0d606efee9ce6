package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const dateLayout = "2006-01-02"

func newSequenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Inspect document number sequences",
	}
	cmd.AddCommand(newSequenceNextCmd())
	return cmd
}

func newSequenceNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next document number without consuming it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := peekRequestFromFlags(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			var alloc sequencedomain.Allocator
			app := fx.New(
				coreOptions(false),
				domainOptions(),
				fx.Populate(&alloc),
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			startCtx, cancel := context.WithTimeout(ctx, startTimeout)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.WithoutCancel(ctx)) }()

			return printNext(ctx, cmd.OutOrStdout(), alloc, req, asJSON)
		},
	}

	cmd.Flags().String("type", "", "document type (estimate, purchase_order, order_confirmation, delivery_note, invoice)")
	cmd.Flags().String("path", string(sequencedomain.PathPrimary), "number path (primary or from_estimate)")
	cmd.Flags().String("date", "", "reference date YYYY-MM-DD (defaults to today)")
	cmd.Flags().Bool("json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func peekRequestFromFlags(cmd *cobra.Command) (sequencedomain.AllocateRequest, error) {
	rawType, _ := cmd.Flags().GetString("type")
	docType, err := documentdomain.ParseDocumentType(rawType)
	if err != nil {
		return sequencedomain.AllocateRequest{}, err
	}

	rawPath, _ := cmd.Flags().GetString("path")
	path := sequencedomain.NumberPath(strings.TrimSpace(rawPath))
	switch path {
	case "", sequencedomain.PathPrimary:
		path = sequencedomain.PathPrimary
	case sequencedomain.PathFromEstimate:
	default:
		return sequencedomain.AllocateRequest{}, fmt.Errorf("invalid path %q: want primary or from_estimate", rawPath)
	}

	req := sequencedomain.AllocateRequest{DocumentType: docType, Path: path}
	if rawDate, _ := cmd.Flags().GetString("date"); strings.TrimSpace(rawDate) != "" {
		ref, err := time.ParseInLocation(dateLayout, strings.TrimSpace(rawDate), time.Local)
		if err != nil {
			return sequencedomain.AllocateRequest{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", rawDate)
		}
		req.ReferenceDate = ref
	}
	return req, nil
}

func printNext(ctx context.Context, out io.Writer, alloc sequencedomain.Allocator, req sequencedomain.AllocateRequest, asJSON bool) error {
	next, err := alloc.Peek(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to peek sequence: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(next)
	}

	_, err = fmt.Fprintf(out, "%-20s %-8s %-6s %s\n", next.DocumentType, next.YearMonth, fmt.Sprint(next.Sequence), next.Formatted)
	return err
}
