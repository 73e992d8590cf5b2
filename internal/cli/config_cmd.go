// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Read and change settings in the config file.

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
		Long: `Keys use dot notation, for example provider.model or cache.backend.
Run "rigstream config keys" for the full list.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (API key redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := a.cfg.Clone()
			if redacted.Provider.APIKey != "" {
				redacted.Provider.APIKey = "[REDACTED]"
			}
			return render(cmd.OutOrStdout(), a.format, "config show", redacted, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, a.cfg.String())
				return err
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := a.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error()}
			}
			if isSecretKey(args[0]) {
				val = redact(fmt.Sprint(val))
			}
			data := map[string]interface{}{"key": args[0], "value": val}
			return render(cmd.OutOrStdout(), a.format, "config get", data, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, formatValue(val))
				return err
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting and save the config file",
		Long:  `Set validates the result before saving. An empty value clears optional settings such as provider.temperature.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			updated := a.cfg.Clone()
			if err := updated.Set(key, value); err != nil {
				return &UsageError{Field: "key", Value: key, Reason: err.Error()}
			}
			if err := updated.Validate(); err != nil {
				return err
			}

			path, err := a.path()
			if err != nil {
				return err
			}
			if a.configPath == "" {
				if err := config.EnsureConfigDir(); err != nil {
					return NewCommandError("config set", "create config directory", err)
				}
			}
			if err := config.SaveTOML(updated, path); err != nil {
				return NewCommandError("config set", "save", err)
			}
			a.cfg = updated

			shown := value
			if isSecretKey(key) {
				shown = redact(value)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, shown)
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.path()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(p)
			data := map[string]interface{}{"path": p, "exists": statErr == nil}
			return render(cmd.OutOrStdout(), a.format, "config path", data, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, p)
				return err
			})
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every configuration key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := config.GetAllKeys()
			return render(cmd.OutOrStdout(), a.format, "config keys", all, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(all, "\n"))
				return err
			})
		},
	}

	cmd.AddCommand(show, get, set, path, keys)
	return cmd
}

func isSecretKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "api_key")
}

// redact keeps the last four characters of a secret.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "(unset)"
	case *float64:
		if val == nil {
			return "(unset)"
		}
		return fmt.Sprint(*val)
	default:
		return fmt.Sprint(val)
	}
}
