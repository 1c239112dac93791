// Package worker implements the fetch pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"time"

	"go.uber.org/zap"

	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/metrics"
	"github.com/tmorandi/stubborn/internal/publisher"
	"github.com/tmorandi/stubborn/internal/queue"
	"github.com/tmorandi/stubborn/internal/storage"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix  string
	ContentType string
	Topic       string
}

// ResultEvent is the payload published for each terminal fetch.
type ResultEvent struct {
	RequestID   string            `json:"request_id"`
	URL         string            `json:"url"`
	Success     bool              `json:"success"`
	FailureKind fetch.FailureKind `json:"failure_kind,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	Attempts    int               `json:"attempts"`
}

// Fetcher is the attempt-loop entry point the worker drives.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error)
}

// Worker consumes queued requests and executes the fetch pipeline.
type Worker struct {
	queue     queue.Queue
	fetcher   Fetcher
	trails    storage.TrailStore
	blobs     storage.BlobStore
	publisher publisher.Publisher
	clock     fetch.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. A nil blob store disables archiving and a nil
// publisher disables events.
func New(
	q queue.Queue,
	fetcher Fetcher,
	trails storage.TrailStore,
	blobs storage.BlobStore,
	pub publisher.Publisher,
	clock fetch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if blobs == nil {
		blobs = storage.NoOpBlobStore{}
	}
	if pub == nil {
		pub = publisher.NoOp{}
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "bodies"
	}
	if cfg.Topic == "" {
		cfg.Topic = "fetch-results"
	}
	return &Worker{
		queue:     q,
		fetcher:   fetcher,
		trails:    trails,
		blobs:     blobs,
		publisher: pub,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queued requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		metrics.SetQueueDepth(w.queue.Depth())
		w.logger.Debug("dequeued request",
			zap.String("request_id", req.ID),
			zap.String("url", req.URL),
		)
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req fetch.Request) {
	start := w.now()
	result, err := w.fetcher.Fetch(ctx, req)
	elapsed := w.now().Sub(start)

	outcome := "success"
	if !result.Success {
		outcome = string(result.FailureKind)
	}
	metrics.ObserveFetch(outcome, elapsed)
	for _, attempt := range result.Attempts {
		metrics.ObserveAttempt(string(attempt.Outcome))
	}

	if err != nil {
		w.logger.Warn("fetch failed",
			zap.String("request_id", req.ID),
			zap.String("url", req.URL),
			zap.String("failure_kind", string(result.FailureKind)),
			zap.Int("attempts", len(result.Attempts)),
			zap.Error(err),
		)
	} else {
		w.logger.Info("fetch succeeded",
			zap.String("request_id", req.ID),
			zap.String("url", req.URL),
			zap.Int("status_code", result.StatusCode),
			zap.Int("attempts", len(result.Attempts)),
			zap.Duration("elapsed", elapsed),
		)
	}

	blobURI := ""
	if result.Success && len(result.Body) > 0 {
		blobURI = w.archive(ctx, result)
	}

	rec := storage.Record{
		Result:    result,
		BlobURI:   blobURI,
		CreatedAt: w.now(),
	}
	// Persist the body in the blob store, not the trail row.
	rec.Result.Body = nil
	if err := w.trails.Save(ctx, rec); err != nil {
		w.logger.Error("save fetch record failed",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	event := ResultEvent{
		RequestID:   result.RequestID,
		URL:         result.URL,
		Success:     result.Success,
		FailureKind: result.FailureKind,
		StatusCode:  result.StatusCode,
		BlobURI:     blobURI,
		Attempts:    len(result.Attempts),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Error("publish result event failed",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
}

func (w *Worker) archive(ctx context.Context, result fetch.Result) string {
	path := fmt.Sprintf("%s/%s", w.cfg.BlobPrefix, result.RequestID)
	contentType := w.cfg.ContentType
	if ct := result.Headers.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			contentType = parsed
		}
	}
	uri, err := w.blobs.PutObject(ctx, path, contentType, bytes.NewReader(result.Body))
	if err != nil {
		w.logger.Error("archive body failed",
			zap.String("request_id", result.RequestID),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (w *Worker) now() time.Time {
	if w.clock != nil {
		return w.clock.Now()
	}
	return time.Now().UTC()
}
