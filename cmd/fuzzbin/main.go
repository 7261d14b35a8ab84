// SPDX-License-Identifier: MIT

// Command fuzzbin is the library daemon: it owns the store, watches the
// config file, serves health and status endpoints and runs download passes
// over the queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/backup"
	"github.com/fuzzbin/fuzzbin/internal/config"
	"github.com/fuzzbin/fuzzbin/internal/download"
	"github.com/fuzzbin/fuzzbin/internal/files"
	"github.com/fuzzbin/fuzzbin/internal/httpx"
	"github.com/fuzzbin/fuzzbin/internal/lifecycle"
	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/metaclient"
	"github.com/fuzzbin/fuzzbin/internal/store"
	"github.com/fuzzbin/fuzzbin/internal/version"
	"github.com/fuzzbin/fuzzbin/internal/workflows"
)

// services bundles what the HTTP surface needs. importer and enricher are nil
// when the matching API credentials are not configured.
type services struct {
	store    *store.Store
	files    *files.Manager
	download *download.Downloader
	backup   *backup.Service
	holder   *config.Holder
	importer *workflows.PlaylistImporter
	enricher *workflows.Enricher
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	listenAddr := flag.String("listen", ":8288", "status endpoint listen address")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "fuzzbin"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without --config the canonical location under the resolved config dir
	// is used, created on first save.
	effectivePath := *configPath
	if effectivePath == "" {
		var probe config.Config
		if err := probe.Resolve(); err != nil {
			logger.Fatal().Err(err).Msg("resolving config directory failed")
		}
		effectivePath = probe.FilePath()
	}

	manager, err := config.NewManager(effectivePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", effectivePath).Msg("loading configuration failed")
	}
	cfg := manager.Current()

	log.SetLevel(cfg.Logging.Level)
	logger.Info().Str("config", effectivePath).Str("library", cfg.LibraryDir).Msg("configuration loaded")

	if err := run(ctx, cfg, effectivePath, *listenAddr, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(ctx context.Context, cfg config.Config, configPath, listenAddr string, logger zerolog.Logger) error {
	for _, dir := range []string{cfg.ConfigDir, cfg.LibraryDir, cfg.CacheDir(), cfg.Thumbnail.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	coord := lifecycle.New(st)

	fileMgr, err := files.NewManager(files.Config{
		LibraryDir:   cfg.LibraryDir,
		TrashDir:     cfg.Trash.TrashDir,
		ThumbnailDir: cfg.Thumbnail.CacheDir,
	}, st)
	if err != nil {
		return err
	}

	runner := download.NewYtDlp(download.Config{
		BinaryPath: cfg.YtDlp.BinaryPath,
		Format:     cfg.YtDlp.FormatSpec,
	})
	downloader := download.NewDownloader(st, coord, runner, files.Hasher{}, cfg.LibraryDir+"/.incoming")

	backupSvc := backup.New(backup.Config{
		OutputDir:      cfg.Backup.OutputDir,
		RetentionCount: cfg.Backup.RetentionCount,
		ConfigPath:     configPath,
		DatabasePath:   cfg.DatabasePath(),
		ThumbnailDir:   cfg.Thumbnail.CacheDir,
	}, st)

	holder := config.NewHolder(cfg, configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		// The daemon can live without hot reload.
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}
	defer holder.Stop()

	svcs := &services{
		store:    st,
		files:    fileMgr,
		download: downloader,
		backup:   backupSvc,
		holder:   holder,
	}

	if token := cfg.Credentials("spotify")["token"]; token != "" {
		spotify, err := metaclient.NewSpotify(metaclient.Credentials{Token: token}, cfg.CacheDir(), httpx.Config{})
		if err != nil {
			return err
		}
		svcs.importer = workflows.NewPlaylistImporter(st, spotify)
	} else {
		logger.Info().Msg("spotify token not configured, playlist import disabled")
	}

	if key := cfg.Credentials("imvdb")["app_key"]; key != "" {
		imvdb, err := metaclient.NewIMVDb(metaclient.Credentials{Token: key}, cfg.CacheDir(), httpx.Config{})
		if err != nil {
			return err
		}
		svcs.enricher = workflows.NewEnricher(st, coord, imvdb)
	} else {
		logger.Info().Msg("imvdb app key not configured, enrichment disabled")
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router(svcs),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("status endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func router(svcs *services) http.Handler {
	st, fileMgr, dl, backupSvc, holder := svcs.store, svcs.files, svcs.download, svcs.backup, svcs.holder

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		counts := map[string]int64{}
		for _, status := range []store.Status{
			store.StatusDiscovered, store.StatusQueued, store.StatusDownloading,
			store.StatusDownloaded, store.StatusFailed, store.StatusImported,
			store.StatusOrganized, store.StatusArchived, store.StatusMissing,
		} {
			n, err := st.Videos().Status(status).Count(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if n > 0 {
				counts[string(status)] = n
			}
		}
		total, err := st.Videos().Count(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cfg := holder.Get()
		writeJSON(w, map[string]any{
			"version":     version.Version,
			"library_dir": cfg.LibraryDir,
			"videos":      total,
			"by_status":   counts,
		})
	})

	r.Post("/downloads/run", func(w http.ResponseWriter, req *http.Request) {
		summary, err := dl.ProcessQueue(req.Context(), 2, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	})

	r.Post("/backups/run", func(w http.ResponseWriter, req *http.Request) {
		path, err := backupSvc.Run(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"path": path})
	})

	r.Post("/library/verify", func(w http.ResponseWriter, req *http.Request) {
		report, err := fileMgr.VerifyLibrary(req.Context(), true, true)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, report)
	})

	r.Post("/playlists/{id}/import", func(w http.ResponseWriter, req *http.Request) {
		if svcs.importer == nil {
			http.Error(w, "spotify token not configured", http.StatusServiceUnavailable)
			return
		}
		summary, err := svcs.importer.Import(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	})

	r.Post("/videos/{id}/enrich", func(w http.ResponseWriter, req *http.Request) {
		if svcs.enricher == nil {
			http.Error(w, "imvdb app key not configured", http.StatusServiceUnavailable)
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid video id", http.StatusBadRequest)
			return
		}
		if err := svcs.enricher.Enrich(req.Context(), id); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, workflows.ErrNoMatch):
				status = http.StatusNotFound
			case errors.Is(err, store.ErrNotFound):
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
