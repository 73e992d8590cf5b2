// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/provider"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

const listModelsTimeout = 15 * time.Second

// =============================================================================
// MODELS
// =============================================================================

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the configured service offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := provider.New(a.cfg.Provider, a.log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), listModelsTimeout)
			defer cancel()
			names, err := p.ListModels(ctx)
			if err != nil {
				return NewCommandError("models", "list models", err)
			}
			sort.Strings(names)

			current := p.Model.Name()
			return render(cmd.OutOrStdout(), a.format, "models", names, func(w io.Writer) error {
				if len(names) == 0 {
					_, err := fmt.Fprintln(w, "No models available.")
					return err
				}
				for _, name := range names {
					marker := "  "
					if name == current {
						marker = "* "
					}
					fmt.Fprintln(w, marker+name)
				}
				return nil
			})
		},
	}
}

// =============================================================================
// USAGE
// =============================================================================

func newUsageCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize token usage over recent days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return &UsageError{Field: "days", Value: fmt.Sprint(days), Reason: "must be positive"}
			}
			tracker, err := a.tracker()
			if err != nil {
				return NewCommandError("usage", "open usage storage", err)
			}
			trends := tracker.Trends(days)

			return render(cmd.OutOrStdout(), a.format, "usage", trends, func(w io.Writer) error {
				fmt.Fprintf(w, "Last %d days: %d tokens (%d in, %d out)\n",
					trends.Days, trends.Totals.TotalTokens, trends.Totals.InputTokens, trends.Totals.OutputTokens)
				if trends.Cost > 0 {
					fmt.Fprintf(w, "Reported cost: $%.4f\n", trends.Cost)
				}
				if len(trends.DailyBreakdown) == 0 {
					_, err := fmt.Fprintln(w, "No recorded sessions.")
					return err
				}

				fmt.Fprintln(w)
				t := newTable("DATE", "ATTEMPTS", "TOKENS")
				for _, d := range trends.DailyBreakdown {
					t.Row(d.Date.Format("2006-01-02"), strconv.Itoa(d.Attempts), strconv.Itoa(d.Tokens))
				}
				if err := writeTable(w, t); err != nil {
					return err
				}

				names := make([]string, 0, len(trends.ModelBreakdown))
				for name := range trends.ModelBreakdown {
					names = append(names, name)
				}
				sort.Slice(names, func(i, j int) bool {
					return trends.ModelBreakdown[names[i]] > trends.ModelBreakdown[names[j]]
				})
				fmt.Fprintln(w)
				for _, name := range names {
					fmt.Fprintf(w, "%s %d\n", util.PadRight(util.TruncateWidth(name, 32), 34), trends.ModelBreakdown[name])
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to include")
	return cmd
}
