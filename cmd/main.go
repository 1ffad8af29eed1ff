package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"certprint/internal/api"
	"certprint/internal/browser"
	"certprint/internal/captcha"
	"certprint/internal/certify"
	"certprint/internal/config"
	fileutil "certprint/internal/file"
	"certprint/internal/printer"
	"certprint/internal/record"
	"certprint/internal/storage"
	"certprint/internal/task"
	"certprint/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ScratchDir, cfg.Paths.StagingDir, cfg.Paths.ExtractDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure working dir")
		}
	}

	taskManager, interrupted := buildTaskManager(cfg)

	sink, err := buildSink(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Record.Driver).Msg("open record sink")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("close record sink")
		}
	}()

	opts := certify.Options{
		Site:  cfg.Site,
		Paths: cfg.Paths,
		Sink:  sink,
	}
	if uploader := buildUploader(cfg); uploader != nil {
		opts.Uploader = uploader
	}
	service := certify.NewService(taskManager, buildOrchestrator(cfg), opts)
	service.RecordInterrupted(context.Background(), interrupted)

	router := setupRouter()
	apiHandler := api.NewAPI(service)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	service.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, service, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(api.RequestID())
	r.Use(api.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

// buildTaskManager also returns the run left unfinished by the previous
// process, if any, so its outcome can be recorded once the sink is open.
func buildTaskManager(cfg config.Config) (*task.Manager, *task.Task) {
	tm := task.NewManagerWithOptions(task.Options{
		DataDir:        cfg.Paths.DataDir,
		SessionTimeout: cfg.SessionTimeout,
	})

	interrupted, err := tm.LoadFromDisk()
	if err != nil {
		log.Warn().Err(err).Msg("restore task state failed, starting idle")
	}
	return tm, interrupted
}

func buildOrchestrator(cfg config.Config) *workflow.Orchestrator {
	recognizer := captcha.NewHTTPRecognizer(cfg.Captcha.RecognizerURL, cfg.Captcha.RecognizerTimeout)
	solver := captcha.NewSolver(recognizer, captcha.Options{
		Attempts:      cfg.Captcha.RecognitionAttempts,
		InitialOffset: cfg.Captcha.InitialOffset,
		ScratchDir:    cfg.Paths.ScratchDir,
	})
	dispatcher := printer.NewDispatcher(printer.NewCUPSDevice(cfg.Printer.StatusCmd), printer.Options{
		DeviceName:   cfg.Printer.Name,
		Utility:      cfg.Printer.Utility,
		PollInterval: cfg.Printer.PollInterval,
		PollTimeout:  cfg.Printer.PollTimeout,
	})
	return workflow.NewOrchestrator(browser.NewLauncher(cfg.Browser), solver, dispatcher, workflow.Options{
		Site:       cfg.Site,
		StagingDir: cfg.Paths.StagingDir,
		ExtractDir: cfg.Paths.ExtractDir,
	})
}

func buildSink(cfg config.Config) (record.Sink, error) {
	if cfg.Record.Driver != "postgres" {
		return record.NewFileSink(cfg.Paths.DataDir), nil
	}
	pg, err := record.OpenPostgres(cfg.Record.DSN, cfg.Record.Table)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pg.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("record database unreachable at startup")
	}
	return pg, nil
}

// buildUploader returns nil when archiving is disabled or unavailable.
func buildUploader(cfg config.Config) storage.Uploader {
	if cfg.Storage.Endpoint == "" {
		return nil
	}
	uploader, err := storage.NewMinioUploader(cfg.Storage)
	if err != nil {
		log.Warn().Err(err).Msg("certificate archive disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := uploader.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("certificate archive disabled")
		return nil
	}
	return uploader
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, svc *certify.Service, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := svc.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background run did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
