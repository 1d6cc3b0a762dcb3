package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/pkg/chat"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				resolved, err := config.ResolvePath()
				if err != nil {
					return err
				}
				path = resolved
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			fmt.Printf("Configuration OK: %s\n", path)
			fmt.Printf("  server: %s\n", cfg.Server.APIURL)
			for _, room := range cfg.Rooms {
				fmt.Printf("  room: %s\n", room)
			}
			if n := len(cfg.Reminders); n > 0 {
				fmt.Printf("  reminders: %d\n", n)
			}
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				path = config.DefaultPath()
			}
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				}
			}

			var (
				apiURL   string
				wsURL    string
				token    string
				channels string
				status   = chat.PresenceOnline
			)
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("API base URL").
						Placeholder("https://parley.example.com/api/v1").
						Validate(required("api_url")).
						Value(&apiURL),
					huh.NewInput().
						Title("Websocket URL").
						Placeholder("wss://parley.example.com/ws").
						Validate(required("websocket_url")).
						Value(&wsURL),
					huh.NewInput().
						Title("Account token").
						EchoMode(huh.EchoModePassword).
						Validate(required("token")).
						Value(&token),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Channels to join (comma separated)").
						Placeholder("general, random").
						Value(&channels),
					huh.NewSelect[chat.PresenceStatus]().
						Title("Presence status").
						Options(
							huh.NewOption("Online", chat.PresenceOnline),
							huh.NewOption("Away", chat.PresenceAway),
							huh.NewOption("Busy", chat.PresenceBusy),
						).
						Value(&status),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			content := renderConfig(apiURL, wsURL, token, splitChannels(channels), status)
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return err
			}

			// Load the file back so a rendering mistake surfaces now, not
			// on the next start.
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("path", "", "Where to write the file (default: the XDG config dir)")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func renderConfig(apiURL, wsURL, token string, channels []string, status chat.PresenceStatus) string {
	var b strings.Builder
	b.WriteString("version: \"1\"\n\n")
	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  api_url: %q\n", apiURL)
	fmt.Fprintf(&b, "  websocket_url: %q\n", wsURL)
	fmt.Fprintf(&b, "  token: %q\n", token)
	if len(channels) > 0 {
		b.WriteString("\nrooms:\n")
		for _, ch := range channels {
			fmt.Fprintf(&b, "  - type: channel\n    id: %q\n", ch)
		}
	}
	b.WriteString("\npresence:\n")
	fmt.Fprintf(&b, "  status: %s\n", status)
	return b.String()
}
