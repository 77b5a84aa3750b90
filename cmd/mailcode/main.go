package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
	"github.com/hickar/mailcode/internal/app/retriever"
	"github.com/hickar/mailcode/internal/pkg/logger"
)

var (
	configFilepath = flag.String("config", "./config.yaml", "Filepath to configuration file. Default is './config.yaml'")
	envFilepath    = flag.String("env-file", "./.env", "Filepath to environment variables file. Default is './.env'")
	account        = flag.String("account", "", "Address or bare name (completed with mailbox.domain) the verification email was sent to. Defaults to the temp mailbox address")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFilepath, *envFilepath)
	if err != nil {
		log.Fatalf("failed to load configuration: %s", err)
	}

	appLogger := logger.New(os.Stderr, slog.Level(cfg.LogLevel))

	recipient := cfg.Mailbox.Account(*account)
	if recipient == "" && cfg.Mailbox.Mode() == config.ModeTempMail {
		recipient = cfg.Mailbox.TempMailAddress()
	}

	source, err := retriever.New(cfg.Mailbox, recipient, retriever.Options{}, appLogger.With(slog.String("module", "retriever")))
	if err != nil {
		log.Fatalf("failed to set up mailbox: %s", err)
	}

	acquirer := mailer.NewAcquirer(source, mailer.AcquirerOptions{
		MaxRetries:    cfg.Acquire.MaxRetries,
		RetryInterval: cfg.Acquire.RetryInterval,
	}, appLogger.With(slog.String("module", "acquirer")))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	code, err := acquirer.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			appLogger.Error(fmt.Sprintf("Application exited with error: %s", err), slog.String("module", "main"))
			cancel()
			//nolint:gocritic
			os.Exit(1)
		}
		return
	}

	fmt.Println(code)
}
