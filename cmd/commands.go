package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"ai-tutor/handler"
	"ai-tutor/internal/domain"
	"ai-tutor/internal/format"
	"ai-tutor/internal/metrics"
	"ai-tutor/internal/usecase"
	"ai-tutor/internal/web"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()
			if addr != "" {
				s.listenAddr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			chat, err := buildChat(ctx, s, usecase.WithObserver(m))
			if err != nil {
				return err
			}
			srv, err := web.NewServer(chat, web.Config{
				Addr:           s.listenAddr,
				Logger:         logger,
				MaxQuestionLen: s.maxQuestionLen,
				RateLimitRPS:   s.rateLimitRPS,
				RateLimitBurst: s.rateLimitBurst,
				Metrics:        m.Handler(),
				OnRateLimited:  m.RateLimited,
			})
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda behind API Gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()
			if s.stateTable == "" {
				logger.Warn("STATE_TABLE is not set; conversations live only as long as this container")
			}
			chat, err := buildChat(context.Background(), s)
			if err != nil {
				return err
			}
			h, err := handler.NewHandler(chat)
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question and print the formatted reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()
			chat, err := buildChat(cmd.Context(), s)
			if err != nil {
				return err
			}
			out, err := chat.Send(cmd.Context(), usecase.SendInput{
				SessionID: sessionID,
				Question:  strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Reply.Text)
			if !out.Answered() {
				return out.Failure
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	return cmd
}

func formatCmd() *cobra.Command {
	var structured, sanitize bool
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format a reply read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			reply, err := replyFromInput(raw, structured)
			if err != nil {
				return err
			}
			markup := format.Format(reply)
			if sanitize {
				markup = format.NewSanitizer().Sanitize(markup)
			}
			fmt.Fprintln(cmd.OutOrStdout(), markup)
			return nil
		},
	}
	cmd.Flags().BoolVar(&structured, "structured", false, "treat stdin as a JSON payload")
	cmd.Flags().BoolVar(&sanitize, "sanitize", false, "run the output through the sanitizer")
	return cmd
}

func replyFromInput(raw []byte, structured bool) (domain.Reply, error) {
	if !structured {
		return domain.TextReply(strings.TrimSuffix(string(raw), "\n")), nil
	}
	if !json.Valid(raw) {
		return domain.Reply{}, errors.New("format: stdin is not valid JSON")
	}
	return domain.PayloadReply(raw), nil
}
