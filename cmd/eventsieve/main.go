package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/accounts"
	"eventsieve/internal/api"
	"eventsieve/internal/calendar"
	"eventsieve/internal/classify"
	"eventsieve/internal/config"
	"eventsieve/internal/extract"
	"eventsieve/internal/llm"
	"eventsieve/internal/pipeline"
	"eventsieve/internal/store"
	"eventsieve/internal/transcript"
)

const version = "0.1.0-dev"

const defaultListenAddr = ":8790"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("eventsieve %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) error {
	opts := config.ResolveOptions{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				return fmt.Errorf("--config requires a path")
			}
			opts.ConfigPath = args[i]
		case "--db":
			i++
			if i >= len(args) {
				return fmt.Errorf("--db requires a path")
			}
			opts.CLIDBPath = args[i]
		case "--llm":
			i++
			if i >= len(args) {
				return fmt.Errorf("--llm requires a provider name")
			}
			opts.CLILLM = args[i]
		case "--listen":
			i++
			if i >= len(args) {
				return fmt.Errorf("--listen requires an address")
			}
			opts.CLIListen = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)

	s, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	providerName := cfg.LLMProvider.Value
	if providerName == "" {
		providerName = "google"
	}
	provider, err := llm.NewProvider(llm.Config{
		Provider: providerName,
		Model:    cfg.LLMModel.Value,
		APIKey:   cfg.APIKeyForProvider(providerName).Value,
	})
	if err != nil {
		return fmt.Errorf("configuring llm provider: %w", err)
	}

	am := accounts.NewManager(s, accounts.Config{
		ClientID:     cfg.OAuthClientID.Value,
		ClientSecret: cfg.OAuthClientSecret.Value,
		TokenURL:     cfg.TokenURL.Value,
	}, log)

	rec := calendar.NewReconciler(s, am, calendar.NewClient(cfg.CalendarBaseURL.Value), cfg.TimeZone.Value, log)

	p := pipeline.New(
		s,
		classify.New(provider, log),
		transcript.New(s),
		extract.New(provider, log),
		rec,
		log,
	)

	workers := 4
	if v := strings.TrimSpace(cfg.Workers.Value); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid worker count %q", v)
		}
		workers = n
	}
	q := pipeline.NewQueue(p, workers, log)
	defer q.Close()

	addr := cfg.ListenAddr.Value
	if addr == "" {
		addr = defaultListenAddr
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(p, q, am, s, log).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "llm": provider.Name(), "workers": workers}).Info("eventsieve listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runConfig(args []string) error {
	opts := config.ResolveOptions{}
	if len(args) >= 2 && args[0] == "--config" {
		opts.ConfigPath = args[1]
	}

	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return err
	}

	// Redact secrets before printing.
	for k, v := range cfg.LLMKeys {
		v.Value = redact(v.Value)
		cfg.LLMKeys[k] = v
	}
	cfg.OAuthClientSecret.Value = redact(cfg.OAuthClientSecret.Value)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func redact(v string) string {
	if len(v) <= 6 {
		if v == "" {
			return ""
		}
		return "***"
	}
	return v[:3] + "..." + v[len(v)-3:]
}

func printUsage() {
	fmt.Println("eventsieve — turns captured notifications into calendar events")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  eventsieve serve [--config <path>] [--db <path>] [--llm <provider>] [--listen <addr>]")
	fmt.Println("  eventsieve config [--config <path>]")
	fmt.Println("  eventsieve version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  EVENTSIEVE_DB, EVENTSIEVE_LISTEN, EVENTSIEVE_LLM, EVENTSIEVE_LLM_MODEL")
	fmt.Println("  EVENTSIEVE_OAUTH_CLIENT_ID, EVENTSIEVE_OAUTH_CLIENT_SECRET")
	fmt.Println("  EVENTSIEVE_CALENDAR_URL, EVENTSIEVE_TIMEZONE, EVENTSIEVE_WORKERS")
	fmt.Println("  GEMINI_API_KEY / GOOGLE_API_KEY / OPENROUTER_API_KEY")
}
