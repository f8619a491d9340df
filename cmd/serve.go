package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-map/internal/api"
	"github.com/sells-group/deal-map/internal/assets"
	"github.com/sells-group/deal-map/internal/config"
	"github.com/sells-group/deal-map/internal/feed"
	"github.com/sells-group/deal-map/internal/session"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the map server and subscribe to the live feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return app.Serve(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// app wires the feed, sessions, pictograms, and HTTP routes together.
type app struct {
	cfg      *config.Config
	hub      *feed.Hub
	source   feed.Source
	sessions *session.Manager
	icons    *assets.Registry
	handler  http.Handler
	closers  []func()
}

func buildApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{
		cfg:   c,
		hub:   feed.NewHub(),
		icons: assets.NewRegistry(),
	}

	var hook http.Handler
	switch c.Feed.Source {
	case "redis":
		client, err := feed.NewRedisClient(ctx, c.Feed.RedisAddr, c.Feed.RedisPassword, c.Feed.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.source = feed.NewRedisSource(client, c.Feed.Channel, a.hub)
	case "webhook":
		src := feed.NewWebhookSource(a.hub, c.Feed.MaxPayloadBytes)
		a.source = src
		hook = src
	default:
		return nil, eris.Errorf("serve: unknown feed source %q", c.Feed.Source)
	}

	a.sessions = session.NewManager(ctx, a.hub)
	a.closers = append(a.closers, a.sessions.CloseAll)

	a.handler = api.NewServer(api.Options{
		Sessions:       a.sessions,
		Icons:          a.icons,
		FeedHook:       hook,
		Map:            c.Map,
		HitRadius:      c.Surface.HitRadiusMeters,
		AllowedOrigins: c.Server.AllowedOrigins,
	}).Routes()

	return a, nil
}

// Serve runs the feed source, the session reaper, and the HTTP server until
// ctx is cancelled or one of them fails.
func (a *app) Serve(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.icons.Load(gctx, a.cfg.Assets.Dir)
		return nil
	})

	g.Go(func() error {
		if err := a.source.Run(gctx); err != nil && gctx.Err() == nil {
			return eris.Wrap(err, "serve: feed source")
		}
		return nil
	})

	g.Go(func() error {
		a.sessions.RunReaper(gctx,
			time.Duration(a.cfg.Session.ReapIntervalSecs)*time.Second,
			time.Duration(a.cfg.Session.IdleTimeoutMins)*time.Minute,
		)
		return nil
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		zap.L().Info("starting server",
			zap.String("addr", addr),
			zap.String("feed_source", a.cfg.Feed.Source),
			zap.String("channel", a.cfg.Feed.Channel),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	return g.Wait()
}

// Close releases sessions and feed connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
