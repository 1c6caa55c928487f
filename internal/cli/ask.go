package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/conversation"
)

func newAskCmd() *cobra.Command {
	var (
		conversationID string
		language       string
		showMeta       bool
	)

	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: "Run one conversation turn in-process and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, appOptions{dbPath: paths.Database})
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.entity.Process(ctx, conversation.Input{
				Text:           text,
				ConversationID: conversationID,
				Language:       language,
			})
			fmt.Fprintln(cmd.OutOrStdout(), res.ResponseText)
			if showMeta {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[conversation=%s extra=%v]\n", res.ConversationID, res.Extra)
			}
			if category, failed := res.Extra["error"].(string); failed {
				return fmt.Errorf("turn failed: %s", category)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "continue an existing conversation")
	cmd.Flags().StringVar(&language, "language", conversation.DefaultLanguage, "language tag")
	cmd.Flags().BoolVar(&showMeta, "meta", false, "print conversation id and metadata to stderr")

	return cmd
}
