package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"inventory-agent/handler"
	"inventory-agent/internal/integrations/gmail"
	"inventory-agent/internal/integrations/openai"
	"inventory-agent/internal/integrations/paramstore"
	"inventory-agent/internal/rate"
	"inventory-agent/internal/repository"
	"inventory-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	dbPath := mustEnv("INVENTORY_DB")
	paramPrefix := mustEnv("PARAM_PREFIX")
	sender := os.Getenv("SENDER_ADDRESS")
	callTimeout := envDuration("CALL_TIMEOUT", 10*time.Second)
	gmailRPS := envInt("GMAIL_RPS", 5)
	useProjectionModel := envBool("OPENAI_PROJECTION", false)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	store, err := repository.OpenInventory(ctx, dbPath)
	if err != nil {
		slog.Error("failed to open inventory database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	creds, token, err := ssmClient.GmailSecrets(ctx, paramPrefix)
	if err != nil {
		slog.Error("failed to load Gmail secrets", "err", err)
		os.Exit(1)
	}
	gmailSvc, err := gmail.NewService(ctx, creds, token)
	if err != nil {
		slog.Error("failed to create Gmail service", "err", err)
		os.Exit(1)
	}
	limiter := rate.NewTokenBucket(gmailRPS)
	defer limiter.Stop()
	mailer, err := gmail.NewClient(gmailSvc, gmail.WithLimiter(limiter), gmail.WithSender(sender))
	if err != nil {
		slog.Error("failed to create Gmail client", "err", err)
		os.Exit(1)
	}

	opts := []usecase.Option{usecase.WithCallTimeout(callTimeout)}
	if useProjectionModel {
		openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to create OpenAI client", "err", err)
			os.Exit(1)
		}
		opts = append(opts, usecase.WithProjectionInferer(openaiClient))
	}

	// ---- Handler ----
	processService, err := usecase.NewProcessService(store, mailer, slog.Default(), opts...)
	if err != nil {
		slog.Error("failed to create process service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(processService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
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
