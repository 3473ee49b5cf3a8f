package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fairledger/ledger-cli/internal/model"
)

var (
	ingestTypeHint    string
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-directory>",
	Short: "Ingest documents into the pipeline",
	Long:  "Runs each document through extraction, validation and routing. Clean documents post to the ledger; documents with blocking exceptions suspend for review.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		paths, err := collectPayloads(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			zap.L().Info("no documents to ingest")
			return nil
		}

		return processIngest(ctx, env, paths, ingestConcurrency)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTypeHint, "type-hint", "", "document type hint (invoice, bill, credit_note, ...)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "max documents processed in parallel")
	rootCmd.AddCommand(ingestCmd)
}

// collectPayloads expands a directory argument into its files, sorted for
// a stable processing order.
func collectPayloads(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", path)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func processIngest(ctx context.Context, env *pipelineEnv, paths []string, concurrency int) error {
	zap.L().Info("ingesting documents",
		zap.Int("documents", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	var posted, suspended, rejected, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, path := range paths {
		g.Go(func() error {
			doc := model.Document{
				ID:         uuid.NewString(),
				PayloadRef: path,
				TypeHint:   model.DocType(ingestTypeHint),
				ReceivedAt: time.Now().UTC(),
			}
			log := zap.L().With(zap.String("payload", path), zap.String("doc_id", doc.ID))

			inst, err := env.Engine.Ingest(gctx, doc)
			if err != nil {
				failed.Add(1)
				log.Error("ingest failed", zap.Error(err))
				return nil // one bad document does not abort the batch
			}

			switch inst.State {
			case model.StatePosted:
				posted.Add(1)
			case model.StatePendingReview:
				suspended.Add(1)
			case model.StateRejected:
				rejected.Add(1)
			case model.StateFailed:
				failed.Add(1)
			}
			log.Info("ingest complete",
				zap.String("instance_id", inst.ID),
				zap.String("state", string(inst.State)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "ingest batch")
	}

	zap.L().Info("ingest batch complete",
		zap.Int64("posted", posted.Load()),
		zap.Int64("pending_review", suspended.Load()),
		zap.Int64("rejected", rejected.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
