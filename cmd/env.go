package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/fairledger/ledger-cli/internal/extract"
	"github.com/fairledger/ledger-cli/internal/fetch"
	"github.com/fairledger/ledger-cli/internal/ledger"
	"github.com/fairledger/ledger-cli/internal/refdata"
	"github.com/fairledger/ledger-cli/internal/resilience"
	"github.com/fairledger/ledger-cli/internal/review"
	"github.com/fairledger/ledger-cli/internal/store"
	"github.com/fairledger/ledger-cli/internal/workflow"
)

// pipelineEnv bundles the wired pipeline for the commands that run it.
type pipelineEnv struct {
	Store   store.Store
	Engine  *workflow.Engine
	Gateway *review.Gateway
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newFetchDispatcher() *fetch.Dispatcher {
	return fetch.NewDispatcher(
		fetch.NewHTTPFetcher(fetch.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			DefaultRate: rate.Limit(cfg.Fetch.DefaultRate),
		}),
		fetch.NewFTPFetcher(fetch.FTPOptions{
			User:     cfg.Fetch.FTPUser,
			Password: cfg.Fetch.FTPPassword,
		}),
	)
}

// openInput opens a local file, or downloads the content when the argument
// carries a URL scheme. Seed files and bank feeds arrive both ways.
func openInput(ctx context.Context, pathOrURL string) (io.ReadCloser, error) {
	if strings.Contains(pathOrURL, "://") {
		return newFetchDispatcher().Download(ctx, pathOrURL)
	}
	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", pathOrURL)
	}
	return f, nil
}

func initExtractor() (extract.Extractor, error) {
	switch cfg.Extract.Mode {
	case "file":
		return extract.NewFileExtractor(cfg.Extract.PayloadDir), nil
	case "llm":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic.key is required for llm extraction (LEDGER_ANTHROPIC_KEY)")
		}
		client := extract.NewMessageClient(cfg.Anthropic.Key)
		return extract.NewAnthropicExtractor(client, cfg.Anthropic.Model, cfg.Extract.PayloadDir), nil
	default:
		return nil, eris.Errorf("unsupported extract mode: %s", cfg.Extract.Mode)
	}
}

func initNotifier() review.Notifier {
	var notifiers []review.Notifier
	if cfg.Review.WebhookURL != "" {
		notifiers = append(notifiers, review.NewWebhookNotifier(cfg.Review.WebhookURL, 5))
	}
	if cfg.Review.NotionToken != "" && cfg.Review.NotionQueueDB != "" {
		client := review.NewNotionClient(cfg.Review.NotionToken)
		notifiers = append(notifiers, review.NewNotionNotifier(client, cfg.Review.NotionQueueDB))
	}
	switch len(notifiers) {
	case 0:
		return review.NopNotifier{}
	case 1:
		return notifiers[0]
	default:
		return review.MultiNotifier(notifiers)
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	extractor, err := initExtractor()
	if err != nil {
		st.Close()
		return nil, err
	}

	src := refdata.NewSource(st, cfg.Pipeline.BaseCurrency,
		time.Duration(cfg.Pipeline.DuplicateWindowDays)*24*time.Hour)

	gateway := review.NewGateway(st, cfg.Review.Assignee, initNotifier())

	breaker := resilience.NewCircuitBreaker(resilience.CircuitConfig{})
	poster := ledger.NewPoster(st, ledger.NewStoreLedger(st), breaker, resilience.DefaultRetryConfig())

	engine := workflow.NewEngine(st, extractor, src, gateway, poster, workflow.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		ExtractRetry:        resilience.DefaultRetryConfig(),
	})

	return &pipelineEnv{Store: st, Engine: engine, Gateway: gateway}, nil
}
