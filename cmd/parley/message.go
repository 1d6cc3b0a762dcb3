package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/pkg/chat"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation> <content>",
		Short: "Post a message and exit",
		Long: `Post a single message without starting the realtime client.

The conversation is given as "channel:general" or "dm:u42"; a bare name
is treated as a channel.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := chat.ParseConversation(args[0])
			if err != nil {
				return err
			}
			client, err := oneShotClient(cmd)
			if err != nil {
				return err
			}

			parent, _ := cmd.Flags().GetString("reply-to")
			msg, err := client.SendMessage(cmd.Context(), conv, api.SendMessageRequest{
				Content:  args[1],
				ClientID: uuid.NewString(),
				ParentID: parent,
			})
			if err != nil {
				return err
			}

			fmt.Printf("sent %s to %s\n", msg.ID, conv)
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("reply-to", "", "Send as a thread reply to the given message ID")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Print the latest messages from a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := chat.ParseConversation(args[0])
			if err != nil {
				return err
			}
			client, err := oneShotClient(cmd)
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			msgs, err := client.ListMessages(cmd.Context(), conv, api.HistoryOptions{Limit: limit})
			if err != nil {
				return err
			}

			for i := range msgs {
				fmt.Println(formatMessage(&msgs[i]))
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().IntP("limit", "n", 20, "Number of messages to fetch")
	return cmd
}

// oneShotClient builds a REST client from the configuration for commands
// that do not need the realtime stack.
func oneShotClient(cmd *cobra.Command) (*api.Client, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		resolved, err := config.ResolvePath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return api.New(api.Config{
		BaseURL: cfg.Server.APIURL,
		Token:   cfg.Server.Token,
	}, logger, nil), nil
}

func formatMessage(msg *chat.Message) string {
	author := msg.Author.Username
	if author == "" {
		author = msg.Author.ID
	}
	line := fmt.Sprintf("%s  %s: %s", msg.CreatedAt.Local().Format("2006-01-02 15:04"), author, msg.Content)
	if msg.Edited && !msg.Deleted {
		line += " (edited)"
	}
	if msg.IsPinned() {
		line += " [pinned]"
	}
	return line
}
