package enrich

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// defaultAttachmentConcurrency bounds parallel downloads so a large manifest
// still completes within the webhook time budget.
const defaultAttachmentConcurrency = 5

// BatchResult reports an attachment batch's totals. Individual failures are
// counted, never propagated.
type BatchResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// AttachmentProcessor downloads and persists the documents referenced by a
// provider response.
type AttachmentProcessor struct {
	store         store.Store
	client        judit.Client
	dir           string
	maxConcurrent int
}

// NewAttachmentProcessor creates a processor storing files under dir.
func NewAttachmentProcessor(st store.Store, client judit.Client, dir string, maxConcurrent int) *AttachmentProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultAttachmentConcurrency
	}
	return &AttachmentProcessor{store: st, client: client, dir: dir, maxConcurrent: maxConcurrent}
}

// ProcessBatch downloads every attachment in the manifest with bounded
// concurrency. A failed item is recorded with its error and counted; it
// never aborts the batch, and ProcessBatch itself only errors when the
// storage directory cannot be created.
func (p *AttachmentProcessor) ProcessBatch(ctx context.Context, caseID, requestID string, manifest []judit.Attachment) (BatchResult, error) {
	result := BatchResult{Attempted: len(manifest)}
	if len(manifest) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return result, eris.Wrap(err, "enrich: create attachment dir")
	}

	var succeeded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for _, att := range manifest {
		g.Go(func() error {
			if err := p.processOne(ctx, caseID, requestID, att); err != nil {
				failed.Add(1)
				zap.L().Warn("attachment failed",
					zap.String("case_id", caseID),
					zap.String("attachment_code", att.Code),
					zap.Error(err),
				)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())

	zap.L().Info("attachment batch finished",
		zap.String("case_id", caseID),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (p *AttachmentProcessor) processOne(ctx context.Context, caseID, requestID string, att judit.Attachment) error {
	record := model.Attachment{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		RequestID: requestID,
		Code:      att.Code,
		Instance:  att.Instance,
		Name:      att.Name,
	}

	data, err := p.client.DownloadAttachment(ctx, requestID, att.Code)
	if err == nil {
		path := filepath.Join(p.dir, record.ID+extensionFor(att))
		err = os.WriteFile(path, data, 0o644)
		if err == nil {
			record.Status = model.AttachmentStored
			record.Path = path
		}
	}
	if err != nil {
		record.Status = model.AttachmentFailed
		record.Error = err.Error()
	}

	if _, recErr := p.store.RecordAttachment(ctx, record); recErr != nil {
		// The download outcome is already decided; a bookkeeping failure
		// counts the item as failed either way.
		return eris.Wrap(recErr, "enrich: record attachment")
	}
	return err
}

func extensionFor(att judit.Attachment) string {
	if att.Extension == "" {
		return ".pdf"
	}
	if att.Extension[0] != '.' {
		return "." + att.Extension
	}
	return att.Extension
}
