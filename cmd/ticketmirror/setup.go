package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirrorboard/ticketmirror/internal/config"
	"github.com/mirrorboard/ticketmirror/internal/remote"
	"github.com/mirrorboard/ticketmirror/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively configure the remote tracker connection",
	Long: `Walk through connecting ticketmirror to a remote tracker.

Prompts for the tracker URL and credentials, verifies them with a live
request, and writes the config file. Existing settings are offered as
defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal() {
			return fmt.Errorf("setup is interactive; edit %s directly instead", config.DefaultPath)
		}

		baseURL := cfg.Remote.BaseURL
		username := cfg.Remote.Username
		token := ""
		projects := strings.Join(cfg.Filters.Projects, ",")

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Tracker URL").
					Description("Base URL of the remote tracker, e.g. https://tracker.example.com").
					Value(&baseURL).
					Validate(func(s string) error {
						if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
							return fmt.Errorf("must start with http:// or https://")
						}
						return nil
					}),
				huh.NewInput().
					Title("Username").
					Value(&username),
				huh.NewInput().
					Title("API token").
					EchoMode(huh.EchoModePassword).
					Value(&token),
				huh.NewInput().
					Title("Projects").
					Description("Comma-separated project keys to sync (empty = all)").
					Value(&projects),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		// Verify before writing anything.
		client := remote.NewClient(remote.ClientConfig{
			BaseURL:  baseURL,
			Username: username,
			APIToken: token,
		})
		fmt.Printf("%s Verifying credentials...\n", ui.RenderAccent("→"))
		found, err := client.ListProjects(context.Background())
		if err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}
		fmt.Printf("%s Connected (%d projects visible)\n", ui.RenderPass("✓"), len(found))

		path := cfgPath
		if path == "" {
			path = config.DefaultPath
		}
		if err := writeConfig(path, baseURL, username, token, projects); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Println("\nNext: run 'ticketmirror sync --full' to build the mirror.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// writeConfig persists the form results, preserving any settings already
// present in the file.
func writeConfig(path, baseURL, username, token, projects string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read existing config: %w", err)
		}
	}

	v.Set("remote.base_url", baseURL)
	v.Set("remote.username", username)
	v.Set("remote.api_token", token)
	if p := strings.TrimSpace(projects); p != "" {
		var keys []string
		for _, k := range strings.Split(p, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		v.Set("filters.projects", keys)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
