package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kindred-labs/kin/internal/dotenv"
	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/store"
	"github.com/kindred-labs/kin/pkg/gateway/config"
	gatewayserver "github.com/kindred-labs/kin/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildBackend func(context.Context, config.Config, *slog.Logger) (gatewayserver.Deps, func(), error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Deps) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		buildBackend: buildBackend,
		newGateway:   gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildBackend constructs the provider clients and the durable store from
// configuration.
func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error) {
	var deps gatewayserver.Deps

	switch cfg.CompletionProvider {
	case config.ProviderGemini:
		gem, err := ai.NewGenAI(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return deps, nil, fmt.Errorf("gemini client: %w", err)
		}
		deps.Completer = gem
		deps.Classifier = gem
	case config.ProviderOpenAI:
		oai, err := ai.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return deps, nil, fmt.Errorf("openai client: %w", err)
		}
		deps.Completer = oai
		deps.Classifier = oai
		deps.Transcriber = oai
		deps.Synthesizer = oai
	default:
		return deps, nil, fmt.Errorf("unknown completion provider %q", cfg.CompletionProvider)
	}

	// Transcription and synthesis ride on OpenAI regardless of the
	// completion provider; without a key the gateway runs text-only.
	if deps.Transcriber == nil && cfg.OpenAIAPIKey != "" {
		oai, err := ai.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return deps, nil, fmt.Errorf("openai audio client: %w", err)
		}
		deps.Transcriber = oai
		deps.Synthesizer = oai
	}
	if deps.Transcriber == nil {
		logger.Warn("no openai key configured; audio turns disabled")
	}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		deps.Store = store.NewMemory()
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return deps, nil, fmt.Errorf("redis url: %w", err)
		}
		deps.Store = store.NewRedis(redis.NewClient(opts), 30*24*time.Hour)
	case config.StorePostgres:
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return deps, nil, fmt.Errorf("postgres store: %w", err)
		}
		deps.Store = pg
	default:
		return deps, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	cleanup := func() {
		if deps.Store != nil {
			if err := deps.Store.Close(); err != nil {
				logger.Warn("store close failed", "error", err)
			}
		}
	}
	return deps, cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildBackend == nil {
		return errors.New("missing buildBackend dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, cleanup, err := deps.buildBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	gw, err := deps.newGateway(cfg, logger, backend)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"provider", cfg.CompletionProvider,
		"store", cfg.StoreDriver,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitSessions(waitCtx) {
		logger.Info("forcing remaining sessions closed", "count", gw.Sessions().Count())
		gw.CloseSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "kin-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "kin-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
