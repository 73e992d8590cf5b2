// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cache_cmd.go - Inspect and clear the provider success cache.

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

const defaultCacheLimit = 20

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the cache of recently working providers",
		Long: `The cache remembers which provider configurations recently returned a
successful reply. Entries never contain an API key, only a short
fingerprint of it.`,
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recently successful providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showCache(cmd, "cache list", func(c *cache.Cache) []cache.Entry {
				return c.RecentSuccesses(cmd.Context(), limit)
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", defaultCacheLimit, "maximum entries to show")

	var topLimit int
	top := &cobra.Command{
		Use:   "top",
		Short: "Show the most frequently successful providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showCache(cmd, "cache top", func(c *cache.Cache) []cache.Entry {
				return c.TopSuccesses(cmd.Context(), topLimit)
			})
		},
	}
	top.Flags().IntVarP(&topLimit, "limit", "n", defaultCacheLimit, "maximum entries to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n := c.Len(cmd.Context())
			c.Clear(cmd.Context())
			data := map[string]int{"cleared": n}
			return render(cmd.OutOrStdout(), a.format, "cache clear", data, func(w io.Writer) error {
				fmt.Fprintf(w, "Cleared %d cache entries.\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, top, clearCmd)
	return cmd
}

func (a *app) showCache(cmd *cobra.Command, command string, query func(*cache.Cache) []cache.Entry) error {
	c, closeFn, err := a.openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	entries := query(c)
	if entries == nil {
		entries = []cache.Entry{}
	}
	return render(cmd.OutOrStdout(), a.format, command, entries, func(w io.Writer) error {
		return writeEntries(w, entries)
	})
}

func writeEntries(w io.Writer, entries []cache.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "Cache is empty.")
		return err
	}
	t := newTable("PRESET", "MODEL", "URL", "KEY", "HITS", "LAST USED")
	for _, e := range entries {
		t.Row(
			e.Preset,
			util.TruncateWidth(e.Model, 32),
			util.TruncateWidth(strings.TrimPrefix(strings.TrimPrefix(e.URL, "https://"), "http://"), 40),
			e.KeyFragment,
			strconv.Itoa(e.AccessCount),
			e.LastAccessed.Local().Format("2006-01-02 15:04"),
		)
	}
	return writeTable(w, t)
}
