// Package ingest sequences the ingestion pipeline: extract, parse, store
// media, persist messages. Submission is fire-and-forget; the caller gets a
// run id immediately and the outcome is observable only through the run
// record and published events.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapvault/zapvault/internal/events"
	"github.com/zapvault/zapvault/internal/media"
	"github.com/zapvault/zapvault/internal/store"
)

// ErrQueueFull is returned by Submit when the run queue has no capacity.
// The caller should surface backpressure, not block the upload handler.
var ErrQueueFull = errors.New("ingestion queue is full")

// Store is the persistence surface the pipeline needs.
type Store interface {
	UpsertGroup(ctx context.Context, id, name string) error
	WriteMessages(ctx context.Context, msgs []store.Message) (int, error)
	CreateRun(ctx context.Context, r *store.Run) error
	UpdateRunState(ctx context.Context, id uuid.UUID, state string) error
	FinishRun(ctx context.Context, r *store.Run) error
}

// MediaStore stores one media file content-addressed and returns its
// stable reference.
type MediaStore interface {
	Put(ctx context.Context, path string) (media.Ref, error)
}

// EventSink receives run lifecycle events.
type EventSink interface {
	PublishRun(subject string, evt events.RunEvent)
}

// Options tunes the pipeline; zero values fall back to sensible defaults.
type Options struct {
	Workers          int
	QueueSize        int
	MediaConcurrency int
	RunTimeout       time.Duration
}

type job struct {
	runID       uuid.UUID
	archiveName string
	groupHint   string
	data        []byte
}

// Pipeline owns the run queue and worker pool.
type Pipeline struct {
	store  Store
	media  MediaStore
	events EventSink // optional; nil disables event publishing
	logger *slog.Logger
	opts   Options

	queue chan job
	wg    sync.WaitGroup
}

func New(s Store, m MediaStore, ev EventSink, logger *slog.Logger, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.MediaConcurrency <= 0 {
		opts.MediaConcurrency = 4
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	return &Pipeline{
		store:  s,
		media:  m,
		events: ev,
		logger: logger,
		opts:   opts,
		queue:  make(chan job, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop is
// called; ctx bounds the runs themselves.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.queue {
				p.process(ctx, j)
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight runs to reach a terminal
// state.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
}

// Submit records a new run and enqueues it. Returns the run id the caller
// can poll; the pipeline outcome is never returned synchronously.
func (p *Pipeline) Submit(ctx context.Context, archiveName, groupHint string, data []byte) (uuid.UUID, error) {
	run := &store.Run{
		ID:          uuid.New(),
		State:       store.RunReceived,
		ArchiveName: archiveName,
		StartedAt:   time.Now().UTC(),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return uuid.Nil, err
	}

	select {
	case p.queue <- job{runID: run.ID, archiveName: archiveName, groupHint: groupHint, data: data}:
	default:
		run.State = store.RunFailed
		run.Error = ErrQueueFull.Error()
		if err := p.store.FinishRun(ctx, run); err != nil {
			p.logger.Error("failed to record rejected run", "run_id", run.ID, "error", err)
		}
		return uuid.Nil, ErrQueueFull
	}

	if p.events != nil {
		p.events.PublishRun(events.SubjectRunStarted, events.RunEvent{
			RunID:       run.ID.String(),
			ArchiveName: archiveName,
		})
	}
	p.logger.Info("run accepted", "run_id", run.ID, "archive", archiveName)
	return run.ID, nil
}
