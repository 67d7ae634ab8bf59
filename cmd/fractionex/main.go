package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/efreitasn/fractionex/internal/config"
	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/engine"
	"github.com/efreitasn/fractionex/internal/handler"
	"github.com/efreitasn/fractionex/internal/metrics"
	"github.com/efreitasn/fractionex/internal/sequence"
	"github.com/efreitasn/fractionex/internal/service"
	"github.com/efreitasn/fractionex/internal/store"
	"github.com/efreitasn/fractionex/internal/stream"
	"github.com/efreitasn/fractionex/internal/vault"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	envFile := flag.String("env-file", ".env", "Optional file with environment variables")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// newLogger builds the JSON logger, teeing to a rotating file when LOG_FILE
// is set.
func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	codec := stream.Codec{Decimals: cfg.CurrencyDecimals}
	m := metrics.New()

	// Stores and custody.
	ledger := store.NewLedger()
	orderStore := store.NewOrderStore()
	tradeStore := store.NewTradeStore()
	registry := custody.NewRegistry()
	tradeSeq := sequence.New(0)

	// Trade sinks. The journal's last sequence seeds the trade sequencer so
	// a restart never reuses a journal key.
	var sinks []stream.Sink
	var journal *stream.Journal
	if cfg.JournalDir != "" {
		j, err := stream.OpenJournal(cfg.JournalDir, codec)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		journal = j
		last, err := journal.LastSeq()
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		tradeSeq.AdvanceTo(last)
		sinks = append(sinks, journal)
		logger.Info("trade journal opened", slog.String("dir", cfg.JournalDir), slog.Uint64("last_seq", last))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := stream.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, codec)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		logger.Info("kafka sink enabled", slog.String("topic", cfg.KafkaTopic))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, stream.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout, codec))
		logger.Info("webhook sink enabled", slog.String("url", cfg.WebhookURL))
	}
	broadcaster := stream.NewBroadcaster(cfg.StreamBuffer, codec, logger)
	sinks = append(sinks, broadcaster)

	hub := stream.NewHub(cfg.StreamBuffer, logger, sinks...)
	hub.OnError(m.SinkError)

	// Vault and engine.
	v := vault.New(ledger, registry, cfg.VaultAccount)
	matcher := engine.NewMatcher(engine.NewBookManager(), v, ledger, orderStore, tradeStore, tradeSeq)
	matcher.SetPublisher(hub)

	// Services.
	var tradeJournal service.TradeJournal
	if journal != nil {
		tradeJournal = journal
	}
	router := handler.NewRouter(handler.Services{
		Accounts:    service.NewAccountService(matcher, ledger, cfg.CurrencyDecimals, logger),
		Vault:       service.NewVaultService(v, matcher, cfg.AdminAccount, m, logger),
		Orders:      service.NewOrderService(matcher, orderStore, cfg.CurrencyDecimals, m, logger),
		Trades:      service.NewTradeService(tradeStore, v, tradeJournal, cfg.VWAPWindow),
		Custody:     service.NewCustodyService(registry, logger),
		Broadcaster: broadcaster,
		Metrics:     m,
	}, handler.RateLimit{Limit: cfg.RateLimit, Burst: cfg.RateBurst}, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The hub outlives the HTTP server so trades from in-flight requests
	// still reach the sinks.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(hubCtx)
	})
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopHub()
		return err
	})

	return g.Wait()
}
