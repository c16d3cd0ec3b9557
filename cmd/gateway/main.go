package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/aurora-labs/voxgate/internal/dotenv"
	"github.com/aurora-labs/voxgate/pkg/gateway/config"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/turn"
	gatewayserver "github.com/aurora-labs/voxgate/pkg/gateway/server"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/query"
	"github.com/aurora-labs/voxgate/pkg/speech/stt"
	"github.com/aurora-labs/voxgate/pkg/speech/tts"
	"github.com/aurora-labs/voxgate/pkg/store"
)

type proxyDeps struct {
	loadConfig   func() (config.Config, error)
	buildServer  func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultProxyDeps() proxyDeps {
	return proxyDeps{
		loadConfig:   config.LoadFromEnv,
		buildServer:  buildGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) },
		signalStop:   signal.Stop,
	}
}

// buildGateway wires every C1-C8 dependency the gateway needs and returns
// a ready Server plus a cleanup func that releases the Postgres and Redis
// connections it opened.
func buildGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers = append(closers, pgStore.Close)

	migrateDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open migration connection: %w", err)
	}
	if err := store.Migrate(migrateDB); err != nil {
		_ = migrateDB.Close()
		closeAll()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	_ = migrateDB.Close()

	// Redis is optional: when unset the pipeline runs with a nil
	// Idempotency guard, relying on Store's own uniqueness constraint on
	// message id.
	var idempotency *store.RedisIdempotency
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = redisClient.Close() })
		idempotency = store.NewRedisIdempotency(redisClient, cfg.SessionIdempotencyTTL)
	}

	var verifier identity.Verifier
	if cfg.RequireAuth {
		verifier = identity.NewWorkOSVerifier(cfg.WorkOSClientID, 0)
	} else {
		verifier = &identity.StaticVerifier{Tokens: map[string]identity.Identity{}}
	}

	resolver, err := query.NewGeminiResolver(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("build gemini resolver: %w", err)
	}

	pipeline := &turn.Pipeline{
		STT:       stt.NewHTTPProvider(cfg.STTBaseURL, cfg.STTAPIKey),
		TTS:       tts.NewHTTPProvider(cfg.TTSBaseURL, cfg.TTSAPIKey),
		Resolver:  resolver,
		Store:     pgStore,
		Deadlines: turn.Deadlines{STT: cfg.STTDeadline, Query: cfg.QueryDeadline, TTS: cfg.TTSDeadline, Store: cfg.StoreDeadline},
		Logger:    logger,
		STTConfig: stt.Config{
			Encoding:     stt.Encoding(cfg.STTEncoding),
			SampleRateHz: cfg.STTSampleRateHz,
			LanguageCode: cfg.STTLanguageCode,
		},
		Voice: tts.Voice{
			LanguageCode: cfg.TTSVoiceLanguageCode,
			VoiceName:    cfg.TTSVoiceName,
			Gender:       cfg.TTSVoiceGender,
			SpeakingRate: cfg.TTSSpeakingRate,
		},
		Idempotency: idempotency,
	}

	srv := gatewayserver.New(cfg, logger, verifier, pgStore, pipeline)
	return srv, closeAll, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runProxy(ctx context.Context, logger *slog.Logger, deps proxyDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildServer == nil {
		return errors.New("missing buildServer dependency")
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

	gw, cleanup, err := deps.buildServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "require_auth", cfg.RequireAuth)

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

	gw.Lifecycle.SetDraining(true)
	warned := gw.Tracker.WarnAll("draining", "the gateway is shutting down, please reconnect shortly")
	logger.Info("draining", "warned_sessions", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.Tracker.Wait(waitCtx) {
		canceled := gw.Tracker.CancelAll()
		logger.Warn("forced session cancellation after grace period", "canceled", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps proxyDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "gateway: %v\n", err)
		return 1
	}

	if err := runProxy(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultProxyDeps()))
}
