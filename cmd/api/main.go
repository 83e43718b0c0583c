package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/docledger/internal/api"
	"github.com/punchamoorthee/docledger/internal/classify"
	"github.com/punchamoorthee/docledger/internal/config"
	"github.com/punchamoorthee/docledger/internal/extract"
	"github.com/punchamoorthee/docledger/internal/extract/fitz"
	"github.com/punchamoorthee/docledger/internal/extract/tesseract"
	"github.com/punchamoorthee/docledger/internal/identity"
	"github.com/punchamoorthee/docledger/internal/service"
	"github.com/punchamoorthee/docledger/internal/store"
	"github.com/punchamoorthee/docledger/internal/store/memory"
	"github.com/punchamoorthee/docledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("Unable to migrate schema", zap.Error(err))
	}

	// Initialize Layers
	normalizer := identity.NewNormalizer(cfg.DefaultCountryCode)
	pipeline := extract.NewPipeline(extract.Config{
		TextPages:   cfg.ExtractTextPages,
		RasterPages: cfg.ExtractRasterPages,
		RasterDPI:   cfg.ExtractRasterDPI,
		MinChars:    cfg.ExtractMinChars,
	}, fitz.Opener{}, tesseract.New(cfg.OCRLanguage), logger.Named("extract"))

	analysis := service.NewAnalysisService(st, st, pipeline, newClassifier(cfg, logger), normalizer, service.Options{
		Cost:                 cfg.CreditCost,
		MaxUploadBytes:       cfg.MaxUploadBytes,
		KeepDiagnosticDrafts: cfg.KeepDiagnosticDrafts,
	}, logger.Named("analysis"))
	admin := service.NewAdminService(cfg.AdminKey, st, st, normalizer, logger.Named("admin"))
	if cfg.AdminKey == "" {
		logger.Warn("ADMIN_KEY not set, admin endpoints will reject every call")
	}

	handler := api.NewHandler(analysis, admin, st, cfg.MaxUploadBytes, logger.Named("api"))

	// Router
	r := api.NewRouter(handler)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Fatal("Unable to listen", zap.Error(err))
	}
	logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := serve(ctx, srv, ln, 15*time.Second, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

// serve blocks until ctx is cancelled or the server fails, and returns only
// after in-flight requests have drained or grace has elapsed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), grace)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	cancel()
	<-drained
	return err
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DBSource == config.MemoryDBSource {
		return memory.New(cfg.StartingCredits), nil
	}
	return postgres.New(ctx, cfg.DBSource, cfg.StartingCredits)
}

func newClassifier(cfg *config.Config, logger *zap.Logger) service.Classifier {
	if cfg.Classifier == config.StubClassifier {
		logger.Warn("Using the static classifier")
		return classify.NewStaticClassifier()
	}
	return classify.NewOpenAIClassifier(classify.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.ClassifyTimeout,
	})
}
