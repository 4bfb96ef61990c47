package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zapvault/zapvault/internal/archive"
	"github.com/zapvault/zapvault/internal/events"
	"github.com/zapvault/zapvault/internal/identity"
	"github.com/zapvault/zapvault/internal/media"
	"github.com/zapvault/zapvault/internal/parser"
	"github.com/zapvault/zapvault/internal/store"
)

const (
	storeRetries       = 3
	storeRetryInterval = 500 * time.Millisecond
	storeRetryMax      = 5 * time.Second
)

// retryStore replays a store write with capped exponential backoff. Every
// write in the pipeline is idempotent (content-derived keys, upserts), so a
// replay after a transient database failure is safe. An id collision with
// divergent content is a data problem, not a transient one, and is never
// retried.
func retryStore(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = storeRetryInterval
	bo.MaxInterval = storeRetryMax
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, store.ErrInvariantViolation) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, storeRetries), ctx))
}

// process runs one ingestion to a terminal state. The scoped working
// directory is released on every exit path, including panics inside earlier
// stages, via the single deferred RemoveAll.
func (p *Pipeline) process(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancel()

	run := &store.Run{
		ID:          j.runID,
		ArchiveName: j.archiveName,
		StartedAt:   time.Now().UTC(),
	}
	logger := p.logger.With("run_id", j.runID, "archive", j.archiveName)

	workDir, err := os.MkdirTemp("", "zapvault-run-")
	if err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("create working directory: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove working directory", "dir", workDir, "error", err)
		}
	}()

	// Extracting
	p.setState(ctx, run, logger, store.RunExtracting)
	ext, err := archive.Extract(j.data, workDir)
	if err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("extract archive: %w", err))
		return
	}

	// Parsing
	p.setState(ctx, run, logger, store.RunParsing)
	run.GroupName = parser.GroupNameFromFilename(filepath.Base(ext.TranscriptPath), j.groupHint)
	run.GroupID = identity.GroupID(run.GroupName)

	f, err := os.Open(ext.TranscriptPath)
	if err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("open transcript: %w", err))
		return
	}
	parsed, err := parser.Parse(f)
	f.Close()
	if err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("parse transcript: %w", err))
		return
	}
	for _, w := range parsed.Warnings {
		run.Warnings = append(run.Warnings, fmt.Sprintf("parse line %d: %s", w.Line, w.Reason))
	}
	logger.Info("transcript parsed",
		"group", run.GroupName,
		"messages", len(parsed.Messages),
		"media_files", len(ext.MediaPaths),
		"warnings", len(parsed.Warnings),
	)

	// PersistingMedia
	p.setState(ctx, run, logger, store.RunPersistingMedia)
	refs, failed := p.storeMedia(ctx, run, logger, ext.MediaPaths)
	run.MediaCount = len(refs)

	// PersistingMessages
	p.setState(ctx, run, logger, store.RunPersistingMessages)
	if err := retryStore(ctx, func() error {
		return p.store.UpsertGroup(ctx, run.GroupID, run.GroupName)
	}); err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("upsert group: %w", err))
		return
	}

	msgs := p.buildMessages(run, parsed.Messages, refs, failed)
	var inserted int
	err = retryStore(ctx, func() error {
		var werr error
		inserted, werr = p.store.WriteMessages(ctx, msgs)
		return werr
	})
	if err != nil {
		p.fail(ctx, run, logger, fmt.Errorf("write messages: %w", err))
		return
	}
	run.MessageCount = inserted

	// Completed
	run.State = store.RunCompleted
	if err := retryStore(ctx, func() error { return p.store.FinishRun(ctx, run) }); err != nil {
		logger.Error("failed to record completed run", "error", err)
	}
	if p.events != nil {
		p.events.PublishRun(events.SubjectRunCompleted, p.runEvent(run))
	}
	logger.Info("run completed",
		"group", run.GroupName,
		"messages_new", inserted,
		"messages_parsed", len(parsed.Messages),
		"media_stored", run.MediaCount,
		"warnings", len(run.Warnings),
	)
}

// storeMedia uploads the extracted media files with bounded concurrency and
// returns refs keyed by original filename, plus the set of filenames whose
// upload failed. A failed upload is a per-file warning, never a run failure:
// the affected messages persist with has_media set and no media reference.
func (p *Pipeline) storeMedia(ctx context.Context, run *store.Run, logger *slog.Logger, paths []string) (map[string]media.Ref, map[string]bool) {
	refs := make(map[string]media.Ref, len(paths))
	failed := make(map[string]bool)
	if len(paths) == 0 {
		return refs, failed
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MediaConcurrency)

	for _, path := range paths {
		g.Go(func() error {
			ref, err := p.media.Put(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				name := filepath.Base(path)
				logger.Warn("media upload failed", "file", name, "error", err)
				run.Warnings = append(run.Warnings, fmt.Sprintf("media %s: %v", name, err))
				failed[name] = true
				return nil
			}
			refs[ref.OriginalFilename] = ref
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures became warnings

	return refs, failed
}

// buildMessages joins parsed messages with media refs and assigns
// deterministic ids. Output order equals transcript order. The "not stored"
// warning is reserved for media referenced but absent from the archive;
// failed uploads were already warned about once in storeMedia.
func (p *Pipeline) buildMessages(run *store.Run, parsed []parser.Message, refs map[string]media.Ref, failed map[string]bool) []store.Message {
	msgs := make([]store.Message, 0, len(parsed))
	for _, m := range parsed {
		msg := store.Message{
			ID:       identity.MessageID(m.Timestamp, m.Author, m.Text),
			GroupID:  run.GroupID,
			TS:       m.Timestamp,
			Author:   m.Author,
			Text:     m.Text,
			IsSystem: m.IsSystem,
			HasMedia: m.HasMedia,
		}
		if m.HasMedia && m.MediaFilename != "" {
			if ref, ok := refs[m.MediaFilename]; ok {
				msg.Media = &store.MediaRef{
					OriginalFilename: ref.OriginalFilename,
					ContentHash:      ref.ContentHash,
					StorageURI:       ref.StorageURI,
					MediaType:        ref.MediaType,
				}
			} else if !failed[m.MediaFilename] {
				run.Warnings = append(run.Warnings,
					fmt.Sprintf("message references media %s which was not in the archive", m.MediaFilename))
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func (p *Pipeline) setState(ctx context.Context, run *store.Run, logger *slog.Logger, state string) {
	run.State = state
	if err := p.store.UpdateRunState(ctx, run.ID, state); err != nil {
		logger.Warn("failed to record run state", "state", state, "error", err)
	}
}

// fail moves the run to its terminal Failed state and records the cause.
// The terminal write uses a fresh context: the run context may itself be the
// reason we are here (wall-clock timeout).
func (p *Pipeline) fail(_ context.Context, run *store.Run, logger *slog.Logger, err error) {
	logger.Error("run failed", "state", run.State, "error", err)
	run.State = store.RunFailed
	run.Error = err.Error()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := retryStore(ctx, func() error { return p.store.FinishRun(ctx, run) }); ferr != nil {
		logger.Error("failed to record failed run", "error", ferr)
	}
	if p.events != nil {
		p.events.PublishRun(events.SubjectRunFailed, p.runEvent(run))
	}
}

func (p *Pipeline) runEvent(run *store.Run) events.RunEvent {
	return events.RunEvent{
		RunID:        run.ID.String(),
		ArchiveName:  run.ArchiveName,
		GroupID:      run.GroupID,
		GroupName:    run.GroupName,
		MessageCount: run.MessageCount,
		MediaCount:   run.MediaCount,
		WarningCount: len(run.Warnings),
		Error:        run.Error,
	}
}
