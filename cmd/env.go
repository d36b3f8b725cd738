package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/cache"
	"github.com/heroics-capital/treasury-recon/internal/classify"
	"github.com/heroics-capital/treasury-recon/internal/engine"
	"github.com/heroics-capital/treasury-recon/internal/extract"
	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/ingest"
	"github.com/heroics-capital/treasury-recon/internal/mail"
	"github.com/heroics-capital/treasury-recon/internal/recon"
	"github.com/heroics-capital/treasury-recon/internal/resolve"
	"github.com/heroics-capital/treasury-recon/internal/runlog"
)

// env bundles the wired subsystems a command needs.
type env struct {
	index    *cache.Index
	store    *history.Store
	ingestor *ingest.Service
	engine   *engine.Engine
	runLog   runlog.Store
}

func (e *env) Close() {
	if e.runLog != nil {
		e.runLog.Close() //nolint:errcheck
	}
}

// loadRules takes the counterparty rules from the standalone YAML file when
// one is configured, otherwise from the main config.
func loadRules() (classify.Ruleset, error) {
	if cfg.Paths.RulesFile != "" {
		return classify.LoadRulesFile(cfg.Paths.RulesFile)
	}
	specs := make(map[string]classify.RuleSpec, len(cfg.Counterparties))
	for name, rule := range cfg.Counterparties {
		specs[name] = classify.RuleSpec{
			Addresses:      rule.Addresses,
			Domains:        rule.Domains,
			SubjectWords:   rule.SubjectWords,
			SubjectPattern: rule.SubjectPattern,
			Filenames:      rule.Filenames,
		}
	}
	return classify.Compile(specs)
}

func initRunLog(ctx context.Context) (runlog.Store, error) {
	if dir := filepath.Dir(cfg.RunLog.DSN); cfg.RunLog.Driver == "sqlite" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create runlog dir %s", dir)
		}
	}
	st, err := runlog.Open(ctx, cfg.RunLog.Driver, cfg.RunLog.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initIngestor wires the mail-and-FTP ingestion service. A non-empty
// mailboxes slice overrides the configured mailbox list.
func initIngestor(mailboxes []string) (*ingest.Service, error) {
	rules, err := loadRules()
	if err != nil {
		return nil, err
	}
	if len(mailboxes) == 0 {
		mailboxes = cfg.Mail.Mailboxes
	}

	mailClient := mail.New(mail.Options{
		TenantID:     cfg.Mail.TenantID,
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		BaseURL:      cfg.Mail.BaseURL,
		AuthorityURL: cfg.Mail.AuthorityURL,
		RatePerSec:   cfg.Mail.RatePerSec,
		PageSize:     cfg.Mail.PageSize,
	})

	sources := make(map[recon.Bank]ingest.Source, len(cfg.FTP))
	for name, src := range cfg.FTP {
		bank, err := recon.ParseBank(name)
		if err != nil {
			return nil, err
		}
		sources[bank] = ingest.NewFTPSource(ingest.FTPConfig{
			Host:     src.Host,
			User:     src.User,
			Password: src.Password,
			Dir:      src.Dir,
		}, zap.L())
	}

	return ingest.NewService(mailClient, mailboxes, rules, sources, cfg.Paths.AttachmentsDir, zap.L()), nil
}

// initEnv wires the full reconciliation stack. Commands that only read
// persisted state use the narrower helpers instead.
func initEnv(ctx context.Context, mailboxes []string) (*env, error) {
	index, err := cache.Load(cfg.Paths.CacheFile)
	if err != nil {
		return nil, err
	}

	ingestor, err := initIngestor(mailboxes)
	if err != nil {
		return nil, err
	}

	runLog, err := initRunLog(ctx)
	if err != nil {
		return nil, err
	}

	finders := extract.NewFinders(cfg.Paths.AttachmentsDir)
	resolver := resolve.New(index, finders, ingestor, zap.L())
	dispatcher := extract.NewDispatcher(extract.NewRegistry(), cfg.Dispatch.Concurrency, cfg.Dispatch.Timeout(), zap.L())
	store := history.NewStore(cfg.Paths.HistoryDir)

	rates := fx.New(fx.Options{
		BaseURL:    cfg.FX.BaseURL,
		Currencies: cfg.FX.Currencies,
		CachePath:  cfg.Paths.FXCacheFile,
		Timeout:    time.Duration(cfg.FX.TimeoutSecs) * time.Second,
	})

	return &env{
		index:    index,
		store:    store,
		ingestor: ingestor,
		engine:   engine.New(resolver, dispatcher, store, rates, runLog, zap.L()),
		runLog:   runLog,
	}, nil
}

// parseDateFlag reads a YYYY-MM-DD flag, defaulting to today when empty.
func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return recon.Date(time.Now().UTC()), nil
	}
	return recon.ParseDate(value)
}
