package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitewatch/internal/auth"
	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/counter"
	"github.com/hamed0406/sitewatch/internal/httpapi"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/file"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/runner"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config (default $SITEWATCH_CONFIG or sitewatch.yaml)")
	once := flag.Bool("once", false, "run a single pass and exit non-zero if any target fails")
	flag.Parse()

	os.Exit(run(config.Path(*cfgFlag), *once))
}

type stores struct {
	alerts  repo.AlertStore
	counts  repo.CountStore
	results repo.ResultStore
	close   func()
}

// openStores uses Postgres when DATABASE_URL is set. Otherwise counters and
// alert records go to files under the state dir and results stay in memory.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("store_postgres")
		return &stores{alerts: pg, counts: pg, results: pg, close: pg.Close}, nil
	}

	fs, err := file.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	mem := memory.New()
	logger.Info("store_file", zap.String("state_dir", cfg.StateDir))
	return &stores{alerts: fs, counts: fs, results: mem, close: func() {}}, nil
}

func channels(cfg *config.Config) notify.Channel {
	var m notify.Multi
	if mailer := notify.NewMailer(notify.MailConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	}); mailer != nil {
		m = append(m, mailer)
	}
	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		m = append(m, slack)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func run(path string, once bool) int {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogToStderr || once)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store_open_failed", zap.Error(err))
		return 2
	}
	defer st.close()

	ch := channels(cfg)
	if ch == nil {
		logger.Warn("notify_disabled", zap.String("hint", "set SMTP_HOST or SLACK_WEBHOOK_URL"))
	}
	disp := notify.NewDispatcher(logger, ch, cfg.Recipients.Site, cfg.Recipients.Ticket)

	r := runner.New(logger, cfg.ToTargets(), auth.NewFormAuthenticator(logger, 0), probe.NewHTTPFetcher(), disp)
	r.Tracker = counter.NewTracker(st.counts)
	r.Gate = runner.NewGate(st.alerts, cfg.CooldownValue(), cfg.AlertOnRecovery, logger)
	r.Results = st.results
	r.Interval = cfg.IntervalValue()

	logger.Info("sitewatch_start",
		zap.String("config", path),
		zap.Bool("once", once),
		zap.Int("targets", len(cfg.Targets)),
		zap.Duration("interval", cfg.IntervalValue()),
		zap.Duration("cooldown", cfg.CooldownValue()),
	)

	if once {
		rep := r.RunOnce(ctx)
		return rep.ExitCode()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Loop(gctx) })
	g.Go(func() error {
		err := config.Watch(gctx, path, logger, func(c *config.Config) {
			r.SetTargets(c.ToTargets())
		})
		if err != nil {
			// reload is a convenience; the loop keeps its current targets
			logger.Warn("config_watch_disabled", zap.Error(err))
		}
		return nil
	})

	if cfg.Status.Addr != "" {
		api := httpapi.NewServer(logger, r, st.results)
		keys := apimw.Keys{Public: cfg.Status.APIKeys, Admin: cfg.Status.AdminKeys}
		srv := &http.Server{
			Addr:              cfg.Status.Addr,
			Handler:           api.Router(keys, cfg.Status.Origins, cfg.Status.RPM, cfg.Status.Burst),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("api_listen", zap.String("addr", cfg.Status.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("sitewatch_stopped", zap.Error(err))
		return 1
	}
	logger.Info("sitewatch_stopped")
	return 0
}
