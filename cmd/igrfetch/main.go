package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "igrfetch/internal/adapter/http"
	"igrfetch/internal/adapter/ocr"
	"igrfetch/internal/adapter/sqlite"
	"igrfetch/internal/browser"
	"igrfetch/internal/config"
	"igrfetch/internal/domain"
	"igrfetch/internal/locations"
	"igrfetch/internal/scrape"
	"igrfetch/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("starting igrfetch on port %d", cfg.Port)
	log.Printf("database: %s", cfg.DBPath)
	log.Printf("download dir: %s", cfg.DownloadDir)
	log.Printf("portal: %s", cfg.PortalURL)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer store.Close()

	locs, err := locations.Load(cfg.LocationsPath)
	if err != nil {
		log.Fatalf("failed to load location data: %v", err)
	}

	svc := domain.NewJobService(store, locs, cfg.DownloadDir)

	// Jobs left running by a previous process cannot be resumed.
	if recovered, err := svc.RecoverInterrupted(context.Background()); err != nil {
		log.Printf("warning: failed to recover interrupted jobs: %v", err)
	} else if recovered > 0 {
		log.Printf("marked %d interrupted jobs as failed", recovered)
	}

	sessionCfg := browser.DefaultSessionConfig()
	sessionCfg.Headless = cfg.Headless

	pool := browser.NewPool(cfg.PoolSize, func(ctx context.Context) (browser.Session, error) {
		return browser.NewChromeSession(ctx, sessionCfg)
	})

	acquire := func(ctx context.Context) (scrape.Portal, func(), error) {
		sess, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		cs, ok := sess.(*browser.ChromeSession)
		if !ok {
			pool.Release(sess)
			return nil, nil, fmt.Errorf("unexpected session type %T", sess)
		}
		portal := browser.NewPortal(cs, cfg.PortalURL)
		return portal, func() { pool.Release(sess) }, nil
	}

	runnerCfg := scrape.DefaultRunnerConfig()
	runnerCfg.StageRetries = cfg.StageRetries
	runnerCfg.Captcha.MaxAttempts = cfg.CaptchaRetries

	runner := scrape.NewRunner(store, acquire, ocr.New(cfg.TesseractPath), runnerCfg)

	dispatcher := worker.NewDispatcher(svc, runner.Run, cfg.PollInterval, cfg.MaxConcurrent)
	sweeper := worker.NewSweeper(svc, cfg.Retention, cfg.SweepInterval)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, locs, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go dispatcher.Run(ctx)
	go sweeper.Run(ctx)

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	pool.Shutdown()

	log.Println("shutdown complete")
}
