package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/replkit/mrepl-server-go/auth"
	"github.com/replkit/mrepl-server-go/config"
	"github.com/replkit/mrepl-server-go/evalgo"
	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/ops"
	"github.com/replkit/mrepl-server-go/server"
	"github.com/replkit/mrepl-server-go/sessions"
	"github.com/replkit/mrepl-server-go/sessions/redisstore"
	"github.com/replkit/mrepl-server-go/stdio"
	"github.com/replkit/mrepl-server-go/streamhttp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REPL server",
	Long: `Starts the server on the configured transport. With the stdio
transport, messages are exchanged as JSON lines on stdin/stdout; with
the http transport, each POSTed message is answered on a server-sent
event stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, cfgPath)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, cfgPath string) error {
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	store, shutdownStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownStore()

	evaluator := evalgo.New()
	loadFile := &ops.LoadFile{Evaluator: evaluator, Watch: cfg.Eval.WatchFiles, Log: log}

	srvOpts := []server.Option{
		server.WithStore(store),
		server.WithLog(log),
		server.WithMiddleware(
			&ops.Session{},
			&ops.Stdin{},
			&ops.Interrupt{},
			ops.NewPrint(),
			&ops.Eval{Evaluator: evaluator},
			loadFile,
		),
	}
	if cfg.Metrics.Enabled {
		srvOpts = append(srvOpts, server.WithPrometheus(prometheus.DefaultRegisterer))
	}

	srv, err := server.New(srvOpts...)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// Describe reflects over the live registry, so it joins after the
	// server owns one.
	describe := &ops.Describe{Registry: srv.Registry(), ServerName: cfg.Server.Name, Version: version}
	if err := srv.Registry().Register(describe); err != nil {
		return fmt.Errorf("register describe: %w", err)
	}
	if err := srv.Rebuild(); err != nil {
		return fmt.Errorf("compose middleware chain: %w", err)
	}

	if cfgPath != "" {
		go watchConfig(ctx, cfgPath, log, srv, loadFile)
	}
	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg, log)
	}

	switch cfg.Server.Transport {
	case "stdio":
		log.Info("serving on stdio")
		return stdio.NewHandler(srv, stdio.WithLogger(log)).Serve(ctx)
	case "http":
		return serveHTTP(ctx, cfg, srv, log)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}

func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func buildStore(ctx context.Context, cfg *config.Config) (sessions.Store, func(), error) {
	var storeOpts []sessions.StoreOption
	if len(cfg.Sessions.DefaultBindings) > 0 {
		storeOpts = append(storeOpts, sessions.WithDefaultBindings(cfg.Sessions.DefaultBindings))
	}

	switch cfg.Sessions.Backend {
	case "redis":
		rs, err := redisstore.New(redisstore.Config{
			RedisAddr: cfg.Sessions.RedisAddr,
			KeyPrefix: cfg.Sessions.KeyPrefix,
			TTL:       cfg.Sessions.TTL,
		}, redisstore.WithDefaultBindings(cfg.Sessions.DefaultBindings))
		if err != nil {
			return nil, nil, fmt.Errorf("connect session store: %w", err)
		}
		return rs, func() { _ = rs.Shutdown() }, nil
	default:
		return sessions.NewMemStore(storeOpts...), func() {}, nil
	}
}

func buildAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case "none":
		return nil, nil
	case "static":
		sc := auth.DefaultStaticConfig()
		sc.Issuer = cfg.Auth.Issuer
		sc.ExpectedAudiences = cfg.Auth.Audiences
		sc.RequiredScopes = cfg.Auth.RequiredScopes
		sc.ScopeModeAny = cfg.Auth.ScopeModeAny
		return auth.NewStatic(ctx, sc, cfg.Auth.JWKSURI)
	case "oidc":
		dc := auth.DefaultDiscoveryConfig()
		dc.Issuer = cfg.Auth.Issuer
		dc.ExpectedAudiences = cfg.Auth.Audiences
		dc.RequiredScopes = cfg.Auth.RequiredScopes
		dc.ScopeModeAny = cfg.Auth.ScopeModeAny
		return auth.NewFromDiscovery(ctx, dc)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, srv *server.Server, log *slog.Logger) error {
	authn, err := buildAuthenticator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}

	hOpts := []streamhttp.Option{streamhttp.WithLogger(log)}
	if authn != nil {
		hOpts = append(hOpts, streamhttp.WithAuthenticator(authn), streamhttp.WithRealm(cfg.Auth.Realm))
	}
	handler, err := streamhttp.New(cfg.Server.Endpoint, srv, hOpts...)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	httpSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: handler}
	errs := make(chan error, 1)
	go func() {
		log.Info("serving http", slog.String("addr", cfg.Server.ListenAddr))
		errs <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown incomplete", slog.String("err", err.Error()))
			_ = httpSrv.Close()
		}
		srv.Dispatcher().Wait()
		return nil
	}
}

func serveMetrics(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	msrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = msrv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", slog.String("addr", cfg.Metrics.ListenAddr), slog.String("path", cfg.Metrics.Path))
	if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics listener failed", slog.String("err", err.Error()))
	}
}

// watchConfig applies the reloadable subset of a changed config file:
// the load-file watch toggle and, through Rebuild, any future
// middleware-set adjustments. Transport and store changes need a
// restart.
func watchConfig(ctx context.Context, path string, log *slog.Logger, srv *server.Server, loadFile *ops.LoadFile) {
	err := config.Watch(ctx, path, log, func(next *config.Config) {
		loadFile.Watch = next.Eval.WatchFiles
		if err := srv.Rebuild(); err != nil {
			var cyc *middleware.CyclicError
			if errors.As(err, &cyc) {
				log.Error("middleware chain rejected", slog.String("err", err.Error()))
				return
			}
			log.Error("rebuild failed", slog.String("err", err.Error()))
			return
		}
		log.Info("configuration applied")
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("config watch stopped", slog.String("err", err.Error()))
	}
}
