package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/cache"
	"github.com/pandeptwidyaop/n8n-monitor/internal/config"
	"github.com/pandeptwidyaop/n8n-monitor/internal/database"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/services"
	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

// app holds the components shared by the daemon and the one-shot commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	settings *settings.Store
	db       *database.DB
	repo     *repository.Repository
}

func openSettings(cfg *config.Config, log *zap.Logger) (*settings.Store, error) {
	key, err := cfg.Secrets.GetMasterKey()
	if err != nil {
		if errors.Is(err, config.ErrMasterKeyMissing) {
			log.Error("settings master key is not configured",
				zap.String("hint", "set secrets.master_key or "+config.MasterKeyEnv+"; generate one with: openssl rand -hex 32"))
		}
		return nil, err
	}
	st, err := settings.Open(cfg.Secrets.Path, key, log.Named("settings"))
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	return st, nil
}

func openApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	st, err := openSettings(cfg, log)
	if err != nil {
		return nil, err
	}

	passphrase := st.DatabasePassphrase()
	db, err := database.New(database.Options{
		Path:                      cfg.Database.Path,
		Passphrase:                passphrase,
		AllowDestructiveMigration: cfg.Database.AllowDestructiveMigration,
		Logger:                    log.Named("database"),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	payloads, err := store.NewPayloadStore(cfg.Database.PayloadDir, passphrase)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open payload store: %w", err)
	}

	repo := repository.New(st, store.New(db, log.Named("store")), repository.Options{
		Cache:     cache.New(cfg.Cache.GetTTL(), cfg.Cache.GetCapacity()),
		Payloads:  payloads,
		Timeout:   cfg.Remote.GetTimeout(),
		UserAgent: cfg.Remote.UserAgent,
		// One list call plus parent lookups, each bounded by Timeout.
		CallTimeout: 4 * cfg.Remote.GetTimeout(),
		Retention:   cfg.Sync.GetRetention(),
		Logger:      log.Named("repository"),
	})

	return &app{cfg: cfg, log: log, settings: st, db: db, repo: repo}, nil
}

func (a *app) newMonitor() *services.Monitor {
	return services.NewMonitor(a.repo, a.settings, services.NewLogNotifier(a.log.Named("notifier")), services.MonitorOptions{
		ExecutionLimit:  a.cfg.Sync.ExecutionsPerWorkflow,
		FailureLookback: a.cfg.Sync.GetFailureLookback(),
		Retry: repository.RetryPolicy{
			Attempts:  a.cfg.Sync.RetryAttempts,
			BaseDelay: a.cfg.Sync.GetRetryBaseDelay(),
			MaxDelay:  a.cfg.Sync.GetRetryMaxDelay(),
		},
	}, a.log.Named("monitor"))
}

func (a *app) newReaper() *services.Reaper {
	return services.NewReaper(a.repo, services.ReaperOptions{
		CleanupInterval: a.cfg.Sync.GetCleanupInterval(),
		SweepInterval:   a.cfg.Cache.GetSweepInterval(),
		KeepExecutions:  a.cfg.Sync.KeepExecutions,
	}, a.log.Named("reaper"))
}

// close writes the final snapshot.
func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("failed to close store", zap.Error(err))
	}
}
