package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"

	"github.com/tbourn/go-modcases/internal/config"
	"github.com/tbourn/go-modcases/internal/domain"
	httpapi "github.com/tbourn/go-modcases/internal/http"
	"github.com/tbourn/go-modcases/internal/observability"
	"github.com/tbourn/go-modcases/internal/repo"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP collaborator API",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "intent-purge-interval",
			Usage:   "how often expired Idempotency-Key intents are purged (0 disables)",
			Value:   time.Hour,
			EnvVars: []string{"INTENT_PURGE_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Usage: "grace period for in-flight requests on shutdown",
			Value: 10 * time.Second,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(sctx); err != nil {
				log.Warn().Err(err).Msg("otel shutdown")
			}
		}()

		flush, err := observability.SetupSentry(cfg.Sentry, version)
		if err != nil {
			return err
		}
		defer flush(2 * time.Second)

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if every := cctx.Duration("intent-purge-interval"); every > 0 {
			go a.purgeIntentsLoop(ctx, every)
		}

		return a.serve(ctx, cctx.Duration("shutdown-timeout"))
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update the store schema and exit",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)
		if err := repo.AutoMigrate(db); err != nil {
			return err
		}
		log.Info().Msg("schema up to date")
		return nil
	},
}

var expireDueCmd = &cli.Command{
	Name:  "expire-due",
	Usage: "expire every bounded case whose duration has lapsed, then exit",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "batch",
			Usage: "cases fetched per round",
			Value: 100,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		a, err := newApp(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.expireDue(cctx.Context, cctx.Int("batch"))
		log.Info().Int("expired", n).Msg("expiry sweep finished")
		return err
	},
}

var purgeIntentsCmd = &cli.Command{
	Name:  "purge-intents",
	Usage: "drop Idempotency-Key intents past their TTL, then exit",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		a, err := newApp(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.mod.PurgeExpiredIntents(cctx.Context)
		if err != nil {
			return err
		}
		log.Info().Int64("purged", n).Msg("intents purged")
		return nil
	},
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for at most grace.
func (a *app) serve(ctx context.Context, grace time.Duration) error {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{Moderation: a.mod, Coord: a.coord}, a.cfg)

	srv := newServer(a.cfg, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base", a.cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// purgeIntentsLoop drops expired intents every interval until ctx ends.
func (a *app) purgeIntentsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.mod.PurgeExpiredIntents(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge intents")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("intents purged")
			}
		}
	}
}

// expireDue expires every case due at the start of the sweep, batch rows at a
// time. A case that fails to expire is logged and paged past so one bad row
// cannot stall the sweep; the last error is returned.
func (a *app) expireDue(ctx context.Context, batch int) (int, error) {
	return a.sweepDue(ctx, batch, func(ctx context.Context, c domain.Case) (bool, error) {
		_, ok, err := a.mod.ExpireIfDue(ctx, c.CommunityID, c.ID)
		return ok, err
	})
}

func (a *app) sweepDue(ctx context.Context, batch int, expire func(context.Context, domain.Case) (bool, error)) (int, error) {
	var (
		expired int
		lastErr error
		after   *repo.DueCursor
		now     = time.Now()
	)
	for {
		due, err := a.mod.ListDueForExpiryAfter(ctx, now, after, batch)
		if err != nil {
			return expired, err
		}
		if len(due) == 0 {
			return expired, lastErr
		}
		for _, c := range due {
			ok, err := expire(ctx, c)
			if err != nil {
				log.Warn().Err(err).Int64("case_id", c.ID).Msg("expire case")
				lastErr = err
				continue
			}
			if ok {
				expired++
			}
		}
		last := due[len(due)-1]
		after = &repo.DueCursor{ExpiresAt: *last.ExpiresAt, ID: last.ID}
	}
}
