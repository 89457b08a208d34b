package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ai-tutor/internal/format"
	"ai-tutor/internal/integrations/paramstore"
	"ai-tutor/internal/integrations/tutorapi"
	"ai-tutor/internal/repository"
	"ai-tutor/internal/usecase"
)

var logger *slog.Logger

// settings is everything read from the environment. It is only built here.
type settings struct {
	tutorAPIURL    string
	paramPrefix    string
	stateTable     string
	maxQuestionLen int
	sanitize       bool
	listenAddr     string
	rateLimitRPS   float64
	rateLimitBurst int
	sessionIdleTTL time.Duration
}

func main() {
	_ = godotenv.Load(".env")
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aitutor",
		Short:        "AI tutor chat front end",
		Long:         "aitutor relays questions to a remote tutor service and renders its replies as chat markup.",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(lambdaCmd())
	root.AddCommand(askCmd())
	root.AddCommand(formatCmd())
	return root
}

func loadSettings() settings {
	return settings{
		tutorAPIURL:    mustEnv("TUTOR_API_URL"),
		paramPrefix:    os.Getenv("PARAM_PREFIX"),
		stateTable:     os.Getenv("STATE_TABLE"),
		maxQuestionLen: envInt("MAX_QUESTION_LENGTH", 2000),
		sanitize:       envBool("SANITIZE_REPLIES", true),
		listenAddr:     envString("LISTEN_ADDR", ":8080"),
		rateLimitRPS:   envFloat("RATE_LIMIT_RPS", 1),
		rateLimitBurst: envInt("RATE_LIMIT_BURST", 5),
		sessionIdleTTL: envDuration("SESSION_IDLE_TTL", 2*time.Hour),
	}
}

// buildChat wires the tutor client, the conversation store and the chat
// service. AWS config is only loaded when SSM or DynamoDB is in use.
func buildChat(ctx context.Context, s settings, opts ...usecase.ChatOption) (*usecase.ChatService, error) {
	var (
		store        usecase.ConversationStore
		clientOpts   []tutorapi.Option
		dynamoClient *awsdynamodb.Client
	)

	if s.paramPrefix != "" || s.stateTable != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		if s.paramPrefix != "" {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
			if err != nil {
				return nil, err
			}
			clientOpts = append(clientOpts, tutorapi.WithParamStore(ssmClient, s.paramPrefix))
		}
		if s.stateTable != "" {
			dynamoClient = awsdynamodb.NewFromConfig(cfg)
		}
	}

	if dynamoClient != nil {
		stateClient, err := repository.New(dynamoClient, s.stateTable)
		if err != nil {
			return nil, err
		}
		store = stateClient
		logger.Info("using DynamoDB conversation store", "table", s.stateTable)
	} else {
		store = repository.NewMemory(s.sessionIdleTTL)
		logger.Info("using in-memory conversation store", "idle_ttl", s.sessionIdleTTL)
	}

	tutorClient, err := tutorapi.NewClient(s.tutorAPIURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	if s.sanitize {
		opts = append(opts, usecase.WithSanitizer(format.NewSanitizer()))
	}
	return usecase.NewChatService(tutorClient, store, logger, s.maxQuestionLen, opts...)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
