package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"webhook-chatter/internal/config"
	"webhook-chatter/internal/telegram"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	cmd.AddCommand(webhookSetCmd())
	cmd.AddCommand(webhookDeleteCmd())
	cmd.AddCommand(webhookInfoCmd())
	return cmd
}

func newTelegramClient() (*telegram.Client, *config.Config, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	tg, err := telegram.NewClient(cfg.TelegramBotToken, telegram.ClientOptions{
		Retries:    cfg.SendRetries,
		RetryDelay: cfg.SendRetryDelay,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return tg, cfg, nil
}

func webhookSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [url]",
		Short: "Register the webhook URL (default: WEBHOOK_URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, cfg, err := newTelegramClient()
			if err != nil {
				return err
			}
			url := cfg.WebhookURL
			if len(args) == 1 {
				url = args[0]
			}
			if url == "" {
				return errors.New("no webhook url given and WEBHOOK_URL is not set")
			}
			if err := tg.SetWebhook(context.Background(), url); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", url)
			return nil
		},
	}
}

func webhookDeleteCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, _, err := newTelegramClient()
			if err != nil {
				return err
			}
			if err := tg.DeleteWebhook(context.Background(), drop); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop-pending", false, "drop updates queued while no webhook was set")
	return cmd
}

func webhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, _, err := newTelegramClient()
			if err != nil {
				return err
			}
			info, err := tg.WebhookInfo(context.Background())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url: %s\n", info.URL)
			fmt.Fprintf(out, "pending updates: %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Fprintf(out, "last error: %s (at %d)\n", info.LastErrorMessage, info.LastErrorDate)
			}
			return nil
		},
	}
}
