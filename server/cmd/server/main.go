package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/safetycheck/safetycheck/server/internal/alerts"
	"github.com/safetycheck/safetycheck/server/internal/api"
	"github.com/safetycheck/safetycheck/server/internal/auth"
	"github.com/safetycheck/safetycheck/server/internal/config"
	"github.com/safetycheck/safetycheck/server/internal/receiver"
	"github.com/safetycheck/safetycheck/server/internal/session"
	"github.com/safetycheck/safetycheck/server/internal/store"
	"github.com/safetycheck/safetycheck/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	uiDir := flag.String("ui-dir", "", "serve the supervisor dashboard from this directory; empty disables it")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, *uiDir); err != nil {
		slog.Error("safetycheck-server: fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath, uiDir string) error {
	slog.Info("safetycheck-server starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"questions", len(cfg.Checklist.Questions),
		"board_ttl", cfg.Server.Board.TTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	history, err := store.OpenHistory(cfg.Server.Storage.Path, cfg.Server.Storage.Retention)
	if err != nil {
		return err
	}
	defer history.Close()

	alertEngine, err := alerts.New(cfg.Server.Alerts)
	if err != nil {
		return err
	}
	defer alertEngine.Wait()

	board := store.NewBoard(cfg.Server.Board.TTL)
	metrics := api.NewMetrics()
	hub := ws.New(board, 5*time.Second)

	// History comes first so a failed write leaves the session open for retry.
	mgr := session.NewManager(cfg.Checklist.EngineQuestions(), cfg.Server.Session.TTL,
		history, board, metrics, alertEngine, hub)

	authCfg := cfg.Server.Auth
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(
		auth.APIKeyInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key()),
	))
	receiver.Register(grpcSrv, receiver.New(mgr))

	apiHandler := api.New(mgr, board, history, metrics)
	apiHandler.SetAlerts(alertEngine)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/metrics", apiHandler)
	httpMux.Handle("/healthz", apiHandler)
	httpMux.Handle("/ws/stream", hub)
	if uiDir != "" {
		httpMux.Handle("/", spaHandler(uiDir))
		slog.Info("serving dashboard static files", "dir", uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           auth.Middleware(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(), "/healthz")(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { board.Run(gctx); return nil })
	g.Go(func() error { mgr.Run(gctx); return nil })
	g.Go(func() error { history.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })

	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			mgr.SetQuestions(next.Checklist.EngineQuestions())
			slog.Info("checklist catalog reloaded", "questions", len(next.Checklist.Questions))
			if err := alertEngine.Reload(next.Server.Alerts); err != nil {
				slog.Error("alert rules not reloaded", "err", err)
			} else {
				slog.Info("alert rules reloaded",
					"rules", len(next.Server.Alerts.Rules),
					"webhooks", len(next.Server.Alerts.Webhooks),
				)
			}
			if next.Server.GRPCPort != cfg.Server.GRPCPort || next.Server.HTTPPort != cfg.Server.HTTPPort ||
				next.Server.Auth != cfg.Server.Auth || next.Server.Storage != cfg.Server.Storage {
				slog.Warn("ports, auth and storage changes take effect after restart")
			}
		})
		if err != nil {
			// Serving continues with the catalog loaded at startup.
			slog.Warn("config watch disabled", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("safetycheck-server shutting down")
		grpcSrv.GracefulStop()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// spaHandler serves files from dir and falls back to index.html for unknown
// paths so client-side routes resolve.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
