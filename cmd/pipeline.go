package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jusbridge/casesync/internal/enrich"
	"github.com/jusbridge/casesync/internal/queue"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// pipelineEnv bundles the wired pipeline components a command needs.
type pipelineEnv struct {
	Store      store.Store
	Judit      judit.Client
	Initiator  *enrich.Initiator
	Ingestor   *enrich.Ingestor
	Worker     *queue.Worker
	Bookkeeper *enrich.Bookkeeper
}

func (env *pipelineEnv) Close() {
	_ = env.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "casesync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initJudit() (judit.Client, error) {
	if cfg.Judit.Key == "" {
		return nil, eris.New("judit API key is required (CASESYNC_JUDIT_KEY)")
	}
	return judit.NewClient(cfg.Judit.Key,
		judit.WithBaseURL(cfg.Judit.BaseURL),
		judit.WithTimeout(cfg.Judit.Timeout()),
	), nil
}

// initPipeline builds the full component graph on top of a migrated store.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	client, err := initJudit()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	bookkeeper := enrich.NewBookkeeper(st)
	describer := enrich.NewDescriber(cfg.Anthropic.Key, cfg.Anthropic.Model)
	reconciler := enrich.NewReconciler(st, describer)
	attachments := enrich.NewAttachmentProcessor(st, client, cfg.Attachments.Dir, cfg.Attachments.MaxConcurrent)
	initiator := enrich.NewInitiator(st, client, bookkeeper, cfg.Judit)

	return &pipelineEnv{
		Store:      st,
		Judit:      client,
		Initiator:  initiator,
		Ingestor:   enrich.NewIngestor(st, reconciler, attachments, bookkeeper),
		Worker:     queue.NewWorker(st, initiator, bookkeeper, cfg.Queue, cfg.Judit.RatePerMinute),
		Bookkeeper: bookkeeper,
	}, nil
}
