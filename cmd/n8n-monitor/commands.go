package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
	"github.com/pandeptwidyaop/n8n-monitor/internal/version"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain adds the guidance of a classified error to the message.
func explain(err error) error {
	var e *repository.Error
	if errors.As(err, &e) {
		return fmt.Errorf("%w\n%s", err, e.Guidance())
	}
	return err
}

// apiKeyEnv keeps the key out of shell history and process listings.
const apiKeyEnv = "N8N_API_KEY"

func readAPIKey(cmd *cobra.Command) (string, error) {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh workflows and executions once and report new failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.newMonitor().SyncOnce(cmd.Context())
			if err != nil {
				return explain(err)
			}
			return printJSON(report)
		},
	}
}

func (c *cli) cleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale records, trim history and delete orphaned payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.newReaper().Run(cmd.Context())
			if err != nil {
				return explain(err)
			}
			return printJSON(report)
		},
	}
}

func (c *cli) settingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the n8n connection settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current settings with the API key masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openSettings(c.cfg, c.log)
				if err != nil {
					return err
				}
				snap := st.Snapshot()
				out := map[string]any{
					"base_url":              nil,
					"api_key":               nil,
					"poll_interval_minutes": snap.PollIntervalMinutes,
					"notifications_enabled": snap.NotificationsEnabled,
					"last_sync_time":        snap.LastSyncTime,
				}
				if snap.BaseURL.Set {
					out["base_url"] = snap.BaseURL.Value
				}
				if snap.APIKey.Set {
					out["api_key"] = validation.MaskSecret(snap.APIKey.Value)
				}
				return printJSON(out)
			},
		},
		&cobra.Command{
			Use:   "set-url <url>",
			Short: "Set the n8n server URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openSettings(c.cfg, c.log)
				if err != nil {
					return err
				}
				return st.SetBaseURL(args[0])
			},
		},
		&cobra.Command{
			Use:   "set-key",
			Short: "Set the n8n API key, read from N8N_API_KEY or stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openSettings(c.cfg, c.log)
				if err != nil {
					return err
				}
				key, err := readAPIKey(cmd)
				if err != nil {
					return err
				}
				return st.SetAPIKey(key)
			},
		},
		&cobra.Command{
			Use:   "set-interval <minutes>",
			Short: "Set the poll interval (5 to 60 minutes)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				minutes, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid interval %q: %w", args[0], err)
				}
				st, err := openSettings(c.cfg, c.log)
				if err != nil {
					return err
				}
				return st.SetPollInterval(minutes)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the URL and API key and reset preferences",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openSettings(c.cfg, c.log)
				if err != nil {
					return err
				}
				return st.Clear()
			},
		},
	)
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Needs no config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
