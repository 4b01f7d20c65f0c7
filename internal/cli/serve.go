package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/autodj/internal/config"
	"github.com/lazypower/autodj/internal/library"
	"github.com/lazypower/autodj/internal/logger"
	"github.com/lazypower/autodj/internal/metrics"
	"github.com/lazypower/autodj/internal/server"
	"github.com/lazypower/autodj/internal/session"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Named("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	musicDir, err := cfg.ResolvedMusicDir()
	if err != nil {
		return fmt.Errorf("resolve music dir: %w", err)
	}
	if err := os.MkdirAll(musicDir, 0755); err != nil {
		return fmt.Errorf("create music dir: %w", err)
	}
	log.Info(ctx, "music directory ready (set AUTODJ_MUSIC_DIR to override)", logger.String("path", musicDir))

	scanner, err := library.NewScanner(0)
	if err != nil {
		return err
	}
	defer scanner.Close()

	m := metrics.NewManager()
	sess := session.New(cfg.TargetBPM)

	start := time.Now()
	tracks, err := scanner.Scan(ctx, musicDir)
	if err != nil {
		log.Warn(ctx, "initial scan failed", logger.Err(err))
	} else {
		sess.SetLibrary(tracks)
		m.SetLibraryTracks(len(tracks))
		elapsed := float64(time.Since(start).Milliseconds())
		m.RecordScanDuration(elapsed)
		log.Info(ctx, "initial scan complete", logger.Int("tracks", len(tracks)), logger.Float64("duration_ms", elapsed))
	}
	if n, err := db.CountScores(ctx); err == nil {
		m.SetScoreRows(n)
	}

	srv := server.New(db, sess, scanner, m, server.Options{
		Version:      VersionString(),
		MusicDir:     musicDir,
		TickInterval: cfg.TickInterval(),
	})

	go sess.Run(ctx, cfg.TickInterval())

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "autodj serving",
			logger.String("addr", addr),
			logger.String("db", dbPath),
			logger.Any("tick_interval", cfg.TickInterval()),
			logger.String("version", VersionString()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}
	log.Info(context.Background(), "shutting down")

	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
