package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"pocus/internal/modules/upload/domain"
	uploadout "pocus/internal/modules/upload/port/out"
	"pocus/internal/platform/clock"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/id"
	"pocus/internal/platform/retry"
)

const terminateTimeout = 10 * time.Second

type Config struct {
	Bucket       string
	ChunkSize    int64
	Workers      int
	ChunkRetries int
	RetryBackoff time.Duration
}

// TokenFunc supplies a fresh bearer token for tasks resumed after a restart.
type TokenFunc func(ctx context.Context) (string, error)

type entry struct {
	task   domain.Task
	cancel context.CancelFunc
	// progress is the highest progress reported so far.
	progress float64
}

type Engine struct {
	cfg       Config
	clock     clock.Clock
	ids       id.Generator
	transport uploadout.Transport
	journal   uploadout.TaskJournal
	sources   uploadout.SourceOpener
	tokens    TokenFunc
	logger    hclog.Logger

	sem    *semaphore.Weighted
	events *dispatcher
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	tasks  map[uuid.UUID]*entry
	closed bool
}

func NewEngine(cfg Config, clk clock.Clock, ids id.Generator, transport uploadout.Transport, journal uploadout.TaskJournal, sources uploadout.SourceOpener, tokens TokenFunc, logger hclog.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ChunkRetries < 1 {
		cfg.ChunkRetries = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		clock:     clk,
		ids:       ids,
		transport: transport,
		journal:   journal,
		sources:   sources,
		tokens:    tokens,
		logger:    logger.Named("upload"),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		events:    newDispatcher(),
		ctx:       ctx,
		stop:      stop,
		tasks:     map[uuid.UUID]*entry{},
	}
}

func (e *Engine) Events() <-chan domain.Event {
	return e.events.out
}

// Enqueue journals the task before announcing it so a crash right after
// Enqueue returns still leaves a resumable record.
func (e *Engine) Enqueue(ctx context.Context, sourcePath string, studyID, institutionID uuid.UUID, contentType, token string, opts domain.Options) (domain.Handle, error) {
	if token == "" {
		return domain.Handle{}, apperrors.ErrAuthRequired
	}
	size, err := e.probe(sourcePath)
	if err != nil {
		return domain.Handle{}, err
	}

	now := e.clock.Now()
	taskID := e.ids.New()
	task := domain.Task{
		ID:            taskID,
		StudyID:       studyID,
		InstitutionID: institutionID,
		Bucket:        e.cfg.Bucket,
		ObjectName:    domain.ObjectName(institutionID, studyID, taskID, sourcePath, contentType),
		ContentType:   contentType,
		SourcePath:    sourcePath,
		Size:          size,
		CacheControl:  opts.CacheControl,
		Metadata:      opts.Metadata,
		Upsert:        opts.Upsert,
		Token:         token,
		Status:        domain.StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.journal.Save(ctx, task); err != nil {
		return domain.Handle{}, fmt.Errorf("journal upload %s: %w", taskID, err)
	}
	if !e.start(task) {
		_ = e.journal.Delete(ctx, taskID)
		return domain.Handle{}, fmt.Errorf("%w: engine is closed", apperrors.ErrUploadFailed)
	}
	e.logger.Info("upload queued", "task_id", taskID, "object", task.ObjectName, "size", size)
	return domain.Handle{ID: taskID, ObjectName: task.ObjectName}, nil
}

// probe opens and releases the source once to fail fast on unreadable files.
func (e *Engine) probe(path string) (int64, error) {
	src, err := e.sources.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}
	size := src.Size()
	if err := src.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}
	return size, nil
}

// start registers the task, emits queued and launches its worker.
func (e *Engine) start(task domain.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	task.Status = domain.StatusQueued
	e.tasks[task.ID] = &entry{task: task, cancel: cancel}
	e.emitLocked(e.tasks[task.ID])
	e.wg.Add(1)
	go e.run(ctx, task.ID)
	return true
}

// Cancel stops a running task. A task only known to the journal, left behind
// by an earlier process, is dropped and terminated without being resumed.
func (e *Engine) Cancel(ctx context.Context, taskID uuid.UUID) {
	e.mu.Lock()
	ent, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		e.discard(ctx, taskID)
		return
	}
	if ent.task.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	ent.cancel()
	ent.task.Status = domain.StatusFailed
	ent.task.Reason = domain.ReasonCancelled
	ent.task.UpdatedAt = e.clock.Now()
	e.emitLocked(ent)
	task := ent.task
	e.mu.Unlock()

	if err := e.journal.Delete(ctx, taskID); err != nil {
		e.logger.Warn("drop cancelled upload from journal", "task_id", taskID, "error", err)
	}
	e.terminate(ctx, task)
}

func (e *Engine) discard(ctx context.Context, taskID uuid.UUID) {
	pending, err := e.journal.Pending(ctx)
	if err != nil {
		e.logger.Warn("load upload journal", "task_id", taskID, "error", err)
		return
	}
	for _, task := range pending {
		if task.ID != taskID {
			continue
		}
		if err := e.journal.Delete(ctx, taskID); err != nil {
			e.logger.Warn("drop cancelled upload from journal", "task_id", taskID, "error", err)
			return
		}
		if e.tokens != nil {
			if token, err := e.tokens(ctx); err == nil && token != "" {
				task.Token = token
			}
		}
		e.logger.Info("discarded journaled upload", "task_id", taskID)
		e.terminate(ctx, task)
		return
	}
}

// terminate asks the server to drop a partial upload. Failure is only logged.
func (e *Engine) terminate(ctx context.Context, task domain.Task) {
	if task.UploadURL == "" {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()
	if err := e.transport.Terminate(tctx, task); err != nil {
		e.logger.Warn("terminate cancelled upload", "task_id", task.ID, "error", err)
	}
}

// ResumePersisted is idempotent: tasks already known to the engine are skipped.
func (e *Engine) ResumePersisted(ctx context.Context) (int, error) {
	pending, err := e.journal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load upload journal: %w", err)
	}
	resumed := 0
	for _, task := range pending {
		e.mu.Lock()
		_, known := e.tasks[task.ID]
		e.mu.Unlock()
		if known || task.Status.Terminal() {
			continue
		}
		if e.tokens != nil {
			if token, err := e.tokens(ctx); err == nil && token != "" {
				task.Token = token
			}
		}
		if task.Token == "" {
			e.logger.Warn("journaled upload has no token", "task_id", task.ID)
			continue
		}
		if !e.start(task) {
			break
		}
		resumed++
	}
	if resumed > 0 {
		e.logger.Info("resumed persisted uploads", "count", resumed)
	}
	return resumed, nil
}

func (e *Engine) Snapshot(taskID uuid.UUID) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	return ent.task.Clone(), true
}

func (e *Engine) Tasks(studyID uuid.UUID) []domain.Task {
	e.mu.Lock()
	out := []domain.Task{}
	for _, ent := range e.tasks {
		if studyID == uuid.Nil || ent.task.StudyID == studyID {
			out = append(out, ent.task.Clone())
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close stops all workers. Unfinished tasks stay journaled and emit nothing more.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.stop()
		e.wg.Wait()
		e.events.stop()
	})
	return nil
}

func (e *Engine) run(ctx context.Context, taskID uuid.UUID) {
	defer e.wg.Done()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.finish(taskID, err)
		return
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	ent, ok := e.tasks[taskID]
	if !ok || ent.task.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	task := ent.task
	e.mu.Unlock()

	e.finish(taskID, e.withSource(task.SourcePath, func(src uploadout.Source) error {
		if size := src.Size(); size != task.Size {
			return fmt.Errorf("%w: source is %d bytes, expected %d", apperrors.ErrSourceUnavailable, size, task.Size)
		}
		return e.transfer(ctx, task, src)
	}))
}

// withSource releases the source on every path, including a failing fn.
func (e *Engine) withSource(path string, fn func(uploadout.Source) error) (err error) {
	src, openErr := e.sources.Open(path)
	if openErr != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, openErr)
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("release source: %w", closeErr)).ErrorOrNil()
		}
	}()
	return fn(src)
}

func (e *Engine) policy(taskID uuid.UUID, step string) retry.Policy {
	return retry.Policy{
		Attempts:   e.cfg.ChunkRetries,
		Backoff:    e.cfg.RetryBackoff,
		MaxBackoff: 30 * time.Second,
		Clock:      e.clock,
		OnRetry: func(attempt int, err error) {
			e.logger.Debug("retrying upload step", "task_id", taskID, "step", step, "attempt", attempt, "error", err)
		},
	}
}

func (e *Engine) transfer(ctx context.Context, task domain.Task, src uploadout.Source) error {
	if task.UploadURL == "" {
		err := e.policy(task.ID, "create").Do(ctx, func(ctx context.Context, _ int) error {
			url, err := e.transport.Create(ctx, task)
			if err != nil {
				return err
			}
			task.UploadURL = url
			return nil
		})
		if err != nil {
			return err
		}
		task.Offset = 0
	} else {
		err := e.policy(task.ID, "offset").Do(ctx, func(ctx context.Context, _ int) error {
			offset, err := e.transport.Offset(ctx, task)
			if err != nil {
				return err
			}
			task.Offset = offset
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := e.advance(ctx, task); err != nil {
		return err
	}

	buf := make([]byte, e.cfg.ChunkSize)
	for task.Offset < task.Size {
		// A failed attempt may have been partially received, so the next
		// attempt asks the server for its offset before sending again.
		resync := false
		err := e.policy(task.ID, "chunk").Do(ctx, func(ctx context.Context, _ int) error {
			if resync {
				offset, err := e.transport.Offset(ctx, task)
				if err != nil {
					return err
				}
				task.Offset = offset
				if task.Offset >= task.Size {
					return nil
				}
			}
			n := min(e.cfg.ChunkSize, task.Size-task.Offset)
			chunk := buf[:n]
			read, err := src.ReadAt(chunk, task.Offset)
			if err != nil && !errors.Is(err, io.EOF) {
				return retry.Permanent(fmt.Errorf("%w: read at %d: %v", apperrors.ErrSourceUnavailable, task.Offset, err))
			}
			if int64(read) < n {
				return retry.Permanent(fmt.Errorf("%w: short read at %d: %d of %d bytes", apperrors.ErrSourceUnavailable, task.Offset, read, n))
			}
			next, err := e.transport.Patch(ctx, task, task.Offset, chunk)
			if err != nil {
				resync = true
				return err
			}
			if next <= task.Offset || next > task.Size {
				resync = true
				return fmt.Errorf("%w: server acknowledged offset %d after %d", apperrors.ErrTransport, next, task.Offset)
			}
			task.Offset = next
			return nil
		})
		if err != nil {
			return err
		}
		if err := e.advance(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// advance records the acknowledged offset and reports progress.
func (e *Engine) advance(ctx context.Context, task domain.Task) error {
	e.mu.Lock()
	ent, ok := e.tasks[task.ID]
	if !ok || ent.task.Status.Terminal() {
		e.mu.Unlock()
		return context.Canceled
	}
	ent.task.UploadURL = task.UploadURL
	ent.task.Offset = task.Offset
	ent.task.Status = domain.StatusUploading
	ent.task.UpdatedAt = e.clock.Now()
	e.emitLocked(ent)
	saved := ent.task
	e.mu.Unlock()

	if err := e.journal.Save(ctx, saved); err != nil && ctx.Err() == nil {
		e.logger.Warn("journal upload offset", "task_id", task.ID, "error", err)
	}
	// A cancel between the unlock and the save already dropped the row,
	// which the save has just written back.
	e.mu.Lock()
	terminal := ent.task.Status.Terminal()
	e.mu.Unlock()
	if terminal {
		if err := e.journal.Delete(context.WithoutCancel(ctx), task.ID); err != nil {
			e.logger.Warn("drop cancelled upload from journal", "task_id", task.ID, "error", err)
		}
		return context.Canceled
	}
	return nil
}

func (e *Engine) finish(taskID uuid.UUID, err error) {
	e.mu.Lock()
	ent, ok := e.tasks[taskID]
	if !ok || ent.task.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	if err != nil && e.ctx.Err() != nil {
		// Engine shutdown: leave the task journaled for the next process.
		e.mu.Unlock()
		return
	}
	ent.cancel()
	ent.task.UpdatedAt = e.clock.Now()
	if err == nil {
		ent.task.Status = domain.StatusCompleted
		ent.task.Offset = ent.task.Size
		ent.task.Location = ent.task.UploadURL
	} else {
		ent.task.Status = domain.StatusFailed
		ent.task.Reason = err.Error()
	}
	e.emitLocked(ent)
	task := ent.task
	e.mu.Unlock()

	if err == nil {
		e.logger.Info("upload completed", "task_id", taskID, "object", task.ObjectName)
	} else {
		e.logger.Error("upload failed", "task_id", taskID, "error", err)
	}
	if jerr := e.journal.Delete(context.Background(), taskID); jerr != nil {
		e.logger.Warn("drop finished upload from journal", "task_id", taskID, "error", jerr)
	}
}

// emitLocked publishes the entry's state. Progress never goes backwards.
func (e *Engine) emitLocked(ent *entry) {
	progress := ent.task.Progress()
	if ent.task.Status == domain.StatusUploading {
		if progress < ent.progress {
			progress = ent.progress
		}
		ent.progress = progress
	}
	e.events.publish(domain.Event{
		TaskID:   ent.task.ID,
		Status:   ent.task.Status,
		Progress: progress,
		Location: ent.task.Location,
		Reason:   ent.task.Reason,
		Task:     ent.task.Clone(),
	})
}
