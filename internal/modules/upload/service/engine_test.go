package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
	uploadout "pocus/internal/modules/upload/port/out"
	"pocus/internal/modules/upload/service"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/id"
)

const mib = 1024 * 1024

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
func (instantClock) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type patchCall struct {
	task   uuid.UUID
	offset int64
	size   int
}

type fakeUpload struct {
	task     uuid.UUID
	size     int64
	received int64
}

// fakeTransport is an in-memory resumable upload server.
type fakeTransport struct {
	mu         sync.Mutex
	uploads    map[string]*fakeUpload
	patches    []patchCall
	heads      int
	terminated []string
	// failures maps a task to how many PATCHes fail before one succeeds. -1 fails forever.
	failures map[uuid.UUID]int
	// partial makes a failing PATCH store half of its chunk first.
	partial bool
	gate    chan struct{}
	// active and peak count PATCHes in flight.
	active int
	peak   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{uploads: map[string]*fakeUpload{}, failures: map[uuid.UUID]int{}}
}

func (f *fakeTransport) Create(_ context.Context, task domain.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://storage.test/upload/" + task.ID.String()
	f.uploads[url] = &fakeUpload{task: task.ID, size: task.Size}
	return url, nil
}

func (f *fakeTransport) Offset(_ context.Context, task domain.Task) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	up, ok := f.uploads[task.UploadURL]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	return up.received, nil
}

func (f *fakeTransport) Patch(ctx context.Context, task domain.Task, offset int64, chunk []byte) (int64, error) {
	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patchCall{task: task.ID, offset: offset, size: len(chunk)})
	up := f.uploads[task.UploadURL]
	if up.received != offset {
		return 0, uploadout.ErrOffsetMismatch
	}
	if n := f.failures[task.ID]; n != 0 {
		if n > 0 {
			f.failures[task.ID] = n - 1
		}
		if f.partial {
			up.received += int64(len(chunk) / 2)
		}
		return 0, fmt.Errorf("%w: connection reset", apperrors.ErrTransport)
	}
	up.received += int64(len(chunk))
	return up.received, nil
}

func (f *fakeTransport) Terminate(_ context.Context, task domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, task.UploadURL)
	return errors.New("remote refused termination")
}

func (f *fakeTransport) inFlight() (active, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.peak
}

func (f *fakeTransport) patchesFor(taskID uuid.UUID) []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []patchCall{}
	for _, p := range f.patches {
		if p.task == taskID {
			out = append(out, p)
		}
	}
	return out
}

type memJournal struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]domain.Task
}

func newMemJournal() *memJournal { return &memJournal{tasks: map[uuid.UUID]domain.Task{}} }

func (j *memJournal) Save(_ context.Context, task domain.Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks[task.ID] = task
	return nil
}

func (j *memJournal) Delete(_ context.Context, taskID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.tasks, taskID)
	return nil
}

func (j *memJournal) Pending(context.Context) ([]domain.Task, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []domain.Task{}
	for _, task := range j.tasks {
		out = append(out, task)
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) get(taskID uuid.UUID) (domain.Task, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	task, ok := j.tasks[taskID]
	return task, ok
}

// gatedJournal holds the first Save of an uploading task past offset zero
// until release is closed.
type gatedJournal struct {
	*memJournal
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (j *gatedJournal) Save(ctx context.Context, task domain.Task) error {
	if task.Status == domain.StatusUploading && task.Offset > 0 {
		hold := false
		j.once.Do(func() { hold = true })
		if hold {
			close(j.held)
			<-j.release
		}
	}
	return j.memJournal.Save(ctx, task)
}

type memSource struct {
	*bytes.Reader
	size   int64
	closed func()
}

func (s memSource) Size() int64  { return s.size }
func (s memSource) Close() error { s.closed(); return nil }

// memSources serves byte slices by path and counts open handles. reopened
// replaces a file's content after its first open; sizes overrides the size a
// source reports.
type memSources struct {
	mu       sync.Mutex
	files    map[string][]byte
	reopened map[string][]byte
	sizes    map[string]int64
	opens    map[string]int
	open     int
}

func (m *memSources) Open(path string) (uploadout.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	if m.opens == nil {
		m.opens = map[string]int{}
	}
	if replaced, ok := m.reopened[path]; ok && m.opens[path] > 0 {
		data = replaced
	}
	m.opens[path]++
	size := int64(len(data))
	if reported, ok := m.sizes[path]; ok {
		size = reported
	}
	m.open++
	return memSource{Reader: bytes.NewReader(data), size: size, closed: func() {
		m.mu.Lock()
		m.open--
		m.mu.Unlock()
	}}, nil
}

func (m *memSources) openHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

type fixture struct {
	engine    *service.Engine
	transport *fakeTransport
	journal   *memJournal
	sources   *memSources
}

func newFixture(t *testing.T, transport *fakeTransport, journal *memJournal, files map[string][]byte) fixture {
	t.Helper()
	return newFixtureWith(t, transport, journal, journal, &memSources{files: files})
}

func newFixtureWith(t *testing.T, transport *fakeTransport, journal uploadout.TaskJournal, mem *memJournal, sources *memSources) fixture {
	t.Helper()
	engine := service.NewEngine(service.Config{
		Bucket:       "media",
		ChunkSize:    6 * mib,
		Workers:      2,
		ChunkRetries: 3,
		RetryBackoff: time.Millisecond,
	}, instantClock{}, id.RandomUUID{}, transport, journal, sources, nil, nil)
	t.Cleanup(func() { _ = engine.Close() })
	return fixture{engine: engine, transport: transport, journal: mem, sources: sources}
}

// collect reads events until every task in want reached a terminal status.
func collect(t *testing.T, events <-chan domain.Event, want ...uuid.UUID) map[uuid.UUID][]domain.Event {
	t.Helper()
	seen := map[uuid.UUID][]domain.Event{}
	open := map[uuid.UUID]bool{}
	for _, id := range want {
		open[id] = true
	}
	deadline := time.After(5 * time.Second)
	for len(open) > 0 {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed early")
			}
			seen[event.TaskID] = append(seen[event.TaskID], event)
			if event.Status.Terminal() {
				delete(open, event.TaskID)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal events, got %v", seen)
		}
	}
	return seen
}

// assertWellFormed checks queued, uploading with non-decreasing progress, then one terminal.
func assertWellFormed(t *testing.T, events []domain.Event) {
	t.Helper()
	if len(events) < 2 || events[0].Status != domain.StatusQueued {
		t.Fatalf("expected queued first, got %+v", events)
	}
	last := -1.0
	for i, event := range events[1:] {
		isLast := i == len(events)-2
		if event.Status.Terminal() != isLast {
			t.Fatalf("terminal event must be last, got %+v", events)
		}
		if event.Status == domain.StatusUploading {
			if event.Progress < last {
				t.Fatalf("progress went backwards: %+v", events)
			}
			last = event.Progress
		}
	}
}

func enqueue(t *testing.T, f fixture, path string, studyID uuid.UUID) domain.Handle {
	t.Helper()
	handle, err := f.engine.Enqueue(context.Background(), path, studyID, uuid.New(), "video/mp4", "token", domain.DefaultOptions())
	if err != nil {
		t.Fatalf("enqueue %s: %v", path, err)
	}
	return handle
}

func TestTenMiBSourceIsSentInTwoChunks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, newFakeTransport(), newMemJournal(), map[string][]byte{"/scan.mp4": make([]byte, 10*mib)})
	handle := enqueue(t, f, "/scan.mp4", uuid.New())

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	assertWellFormed(t, events)

	patches := f.transport.patchesFor(handle.ID)
	if len(patches) != 2 {
		t.Fatalf("expected 2 chunk transmissions, got %+v", patches)
	}
	if patches[0].offset != 0 || patches[0].size != 6*mib || patches[1].offset != 6*mib || patches[1].size != 4*mib {
		t.Fatalf("unexpected chunk layout %+v", patches)
	}
	completed := 0
	for _, event := range events {
		if event.Status == domain.StatusCompleted {
			completed++
			if event.Location == "" || event.Progress != 1 {
				t.Fatalf("completed event must carry location and full progress: %+v", event)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed event, got %d", completed)
	}
	if _, ok := f.journal.get(handle.ID); ok {
		t.Fatalf("finished task must leave the journal")
	}
	if f.sources.openHandles() != 0 {
		t.Fatalf("source handles leaked: %d", f.sources.openHandles())
	}
}

func TestTransientChunkFailureResumesFromServerOffset(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.partial = true
	transport.gate = make(chan struct{})
	f := newFixture(t, transport, newMemJournal(), map[string][]byte{"/a.mp4": make([]byte, 8*mib)})

	handle := enqueue(t, f, "/a.mp4", uuid.New())
	transport.mu.Lock()
	transport.failures[handle.ID] = 1
	transport.mu.Unlock()
	close(transport.gate)

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	assertWellFormed(t, events)
	if last := events[len(events)-1]; last.Status != domain.StatusCompleted {
		t.Fatalf("expected completion after one transient failure, got %+v", last)
	}
	// The failed first chunk left half of itself on the server, so the retry
	// starts at that offset instead of resending from zero.
	patches := transport.patchesFor(handle.ID)
	if len(patches) != 2 || patches[1].offset != 3*mib || patches[1].size != 5*mib {
		t.Fatalf("unexpected retry layout %+v", patches)
	}
	transport.mu.Lock()
	heads := transport.heads
	transport.mu.Unlock()
	if heads == 0 {
		t.Fatalf("expected an offset query before the retry")
	}
}

func TestRetryExhaustionFailsOnlyThatTask(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	f := newFixture(t, transport, newMemJournal(), map[string][]byte{
		"/good.mp4": make([]byte, mib),
		"/bad.mp4":  make([]byte, mib),
	})
	transport.gate = make(chan struct{})
	studyID := uuid.New()
	good := enqueue(t, f, "/good.mp4", studyID)
	bad := enqueue(t, f, "/bad.mp4", studyID)
	transport.mu.Lock()
	transport.failures[bad.ID] = -1
	transport.mu.Unlock()
	close(transport.gate)

	seen := collect(t, f.engine.Events(), good.ID, bad.ID)
	assertWellFormed(t, seen[good.ID])
	assertWellFormed(t, seen[bad.ID])

	badEvents := seen[bad.ID]
	terminal := badEvents[len(badEvents)-1]
	if terminal.Status != domain.StatusFailed || terminal.Reason == "" {
		t.Fatalf("expected failed with reason, got %+v", terminal)
	}
	if n := len(transport.patchesFor(bad.ID)); n != 3 {
		t.Fatalf("expected 3 attempts for the failing chunk, got %d", n)
	}
	if last := seen[good.ID][len(seen[good.ID])-1]; last.Status != domain.StatusCompleted {
		t.Fatalf("unrelated task must still complete, got %+v", last)
	}
}

func TestCancelStopsTaskAndTerminatesBestEffort(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	f := newFixture(t, transport, newMemJournal(), map[string][]byte{"/c.mp4": make([]byte, mib)})
	handle := enqueue(t, f, "/c.mp4", uuid.New())

	// wait until the transfer started so there is a remote upload to terminate
	for deadline := time.Now().Add(5 * time.Second); ; {
		if task, ok := f.engine.Snapshot(handle.ID); ok && task.UploadURL != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transfer never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.engine.Cancel(context.Background(), handle.ID)
	f.engine.Cancel(context.Background(), handle.ID)

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	assertWellFormed(t, events)
	if last := events[len(events)-1]; last.Status != domain.StatusFailed || last.Reason != domain.ReasonCancelled {
		t.Fatalf("expected cancelled failure, got %+v", last)
	}
	transport.mu.Lock()
	terminated := len(transport.terminated)
	transport.mu.Unlock()
	if terminated != 1 {
		t.Fatalf("expected one termination attempt, got %d", terminated)
	}
	if task, _ := f.engine.Snapshot(handle.ID); task.Status != domain.StatusFailed || task.Token != "" {
		t.Fatalf("unexpected snapshot %+v", task)
	}
	if _, ok := f.journal.get(handle.ID); ok {
		t.Fatalf("cancelled task must leave the journal")
	}
}

func TestResumePersistedContinuesFromServerOffsetAndIsIdempotent(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	journal := newMemJournal()
	taskID := uuid.New()
	url := "https://storage.test/upload/" + taskID.String()
	transport.uploads[url] = &fakeUpload{task: taskID, size: 10 * mib, received: 6 * mib}
	_ = journal.Save(context.Background(), domain.Task{
		ID:         taskID,
		StudyID:    uuid.New(),
		SourcePath: "/resume.mp4",
		Size:       10 * mib,
		Offset:     0,
		UploadURL:  url,
		Token:      "old-token",
		Status:     domain.StatusUploading,
	})
	f := newFixture(t, transport, journal, map[string][]byte{"/resume.mp4": make([]byte, 10*mib)})

	resumed, err := f.engine.ResumePersisted(context.Background())
	if err != nil || resumed != 1 {
		t.Fatalf("expected one resumed task, got %d %v", resumed, err)
	}
	again, err := f.engine.ResumePersisted(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("second resume must be a no-op, got %d %v", again, err)
	}

	events := collect(t, f.engine.Events(), taskID)[taskID]
	assertWellFormed(t, events)
	patches := transport.patchesFor(taskID)
	if len(patches) != 1 || patches[0].offset != 6*mib {
		t.Fatalf("expected a single chunk from the server offset, got %+v", patches)
	}
	if n, _ := f.engine.ResumePersisted(context.Background()); n != 0 {
		t.Fatalf("nothing left to resume")
	}
}

func TestEnqueueRejectsMissingSourceAndToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, newFakeTransport(), newMemJournal(), map[string][]byte{})
	_, err := f.engine.Enqueue(context.Background(), "/missing.mp4", uuid.New(), uuid.New(), "video/mp4", "token", domain.DefaultOptions())
	if !errors.Is(err, apperrors.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
	_, err = f.engine.Enqueue(context.Background(), "/missing.mp4", uuid.New(), uuid.New(), "video/mp4", "", domain.DefaultOptions())
	if !errors.Is(err, apperrors.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if tasks := f.engine.Tasks(uuid.Nil); len(tasks) != 0 {
		t.Fatalf("rejected enqueue must not create tasks: %+v", tasks)
	}
}

func TestCloseLeavesUnfinishedTasksJournaled(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	f := newFixture(t, transport, newMemJournal(), map[string][]byte{"/slow.mp4": make([]byte, mib)})
	handle := enqueue(t, f, "/slow.mp4", uuid.New())

	if err := f.engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := f.journal.get(handle.ID); !ok {
		t.Fatalf("unfinished task must stay journaled for the next process")
	}
	for event := range f.engine.Events() {
		if event.Status.Terminal() {
			t.Fatalf("no terminal event expected on shutdown, got %+v", event)
		}
	}
	if _, err := f.engine.Enqueue(context.Background(), "/slow.mp4", uuid.New(), uuid.New(), "video/mp4", "token", domain.DefaultOptions()); !errors.Is(err, apperrors.ErrUploadFailed) {
		t.Fatalf("enqueue after close must fail, got %v", err)
	}
}

func TestSourceChangedSinceEnqueueFailsTheTask(t *testing.T) {
	t.Parallel()
	sources := &memSources{
		files:    map[string][]byte{"/shrunk.mp4": make([]byte, 10*mib)},
		reopened: map[string][]byte{"/shrunk.mp4": make([]byte, 7*mib)},
	}
	f := newFixtureWith(t, newFakeTransport(), newMemJournal(), nil, sources)
	handle := enqueue(t, f, "/shrunk.mp4", uuid.New())

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	last := events[len(events)-1]
	if last.Status != domain.StatusFailed || !strings.Contains(last.Reason, apperrors.ErrSourceUnavailable.Error()) {
		t.Fatalf("expected a source failure, got %+v", last)
	}
	if patches := f.transport.patchesFor(handle.ID); len(patches) != 0 {
		t.Fatalf("no bytes may be sent for a changed source, got %+v", patches)
	}
}

func TestShortReadFailsWithoutRetrying(t *testing.T) {
	t.Parallel()
	sources := &memSources{
		files: map[string][]byte{"/short.mp4": make([]byte, 7*mib)},
		sizes: map[string]int64{"/short.mp4": 10 * mib},
	}
	f := newFixtureWith(t, newFakeTransport(), newMemJournal(), nil, sources)
	handle := enqueue(t, f, "/short.mp4", uuid.New())

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	assertWellFormed(t, events)
	last := events[len(events)-1]
	if last.Status != domain.StatusFailed || !strings.Contains(last.Reason, "short read") {
		t.Fatalf("expected a short read failure, got %+v", last)
	}
	patches := f.transport.patchesFor(handle.ID)
	if len(patches) != 1 || patches[0].offset != 0 || patches[0].size != 6*mib {
		t.Fatalf("only the fully read first chunk may be sent, got %+v", patches)
	}
	if sources.openHandles() != 0 {
		t.Fatalf("source handles leaked: %d", sources.openHandles())
	}
}

func TestCancelDuringJournalSaveStaysDropped(t *testing.T) {
	t.Parallel()
	mem := newMemJournal()
	journal := &gatedJournal{memJournal: mem, held: make(chan struct{}), release: make(chan struct{})}
	sources := &memSources{files: map[string][]byte{"/race.mp4": make([]byte, 10*mib)}}
	f := newFixtureWith(t, newFakeTransport(), journal, mem, sources)
	handle := enqueue(t, f, "/race.mp4", uuid.New())

	select {
	case <-journal.held:
	case <-time.After(5 * time.Second):
		t.Fatalf("the offset save never happened")
	}
	f.engine.Cancel(context.Background(), handle.ID)
	close(journal.release)

	events := collect(t, f.engine.Events(), handle.ID)[handle.ID]
	if last := events[len(events)-1]; last.Reason != domain.ReasonCancelled {
		t.Fatalf("expected a cancelled task, got %+v", last)
	}
	if err := f.engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if task, ok := mem.get(handle.ID); ok {
		t.Fatalf("cancelled task was journaled again: %+v", task)
	}
	if patches := f.transport.patchesFor(handle.ID); len(patches) != 1 {
		t.Fatalf("no chunk may follow the cancel, got %+v", patches)
	}
}

func TestWorkerPoolBoundsConcurrentTransfers(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	files := map[string][]byte{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("/clip-%d.mp4", i)] = make([]byte, mib)
	}
	f := newFixture(t, transport, newMemJournal(), files)
	studyID := uuid.New()
	ids := []uuid.UUID{}
	for path := range files {
		ids = append(ids, enqueue(t, f, path, studyID).ID)
	}

	for deadline := time.Now().Add(5 * time.Second); ; {
		if active, _ := transport.inFlight(); active == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("the pool never filled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if _, peak := transport.inFlight(); peak != 2 {
		t.Fatalf("expected at most 2 transfers at once, got %d", peak)
	}
	close(transport.gate)

	seen := collect(t, f.engine.Events(), ids...)
	for _, taskID := range ids {
		if last := seen[taskID][len(seen[taskID])-1]; last.Status != domain.StatusCompleted {
			t.Fatalf("expected every task to complete, got %+v", last)
		}
	}
	if _, peak := transport.inFlight(); peak != 2 {
		t.Fatalf("expected a peak of 2 transfers, got %d", peak)
	}
}

func TestCancelJournaledTaskDoesNotResumeOthers(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	journal := newMemJournal()
	abandoned, kept := uuid.New(), uuid.New()
	for _, taskID := range []uuid.UUID{abandoned, kept} {
		url := "https://storage.test/upload/" + taskID.String()
		transport.uploads[url] = &fakeUpload{task: taskID, size: mib}
		_ = journal.Save(context.Background(), domain.Task{
			ID:         taskID,
			SourcePath: "/left.mp4",
			Size:       mib,
			UploadURL:  url,
			Token:      "old-token",
			Status:     domain.StatusUploading,
		})
	}
	f := newFixture(t, transport, journal, map[string][]byte{"/left.mp4": make([]byte, mib)})

	f.engine.Cancel(context.Background(), abandoned)

	if _, ok := journal.get(abandoned); ok {
		t.Fatalf("cancelled task must leave the journal")
	}
	if _, ok := journal.get(kept); !ok {
		t.Fatalf("unrelated task must stay journaled")
	}
	transport.mu.Lock()
	terminated := append([]string(nil), transport.terminated...)
	transport.mu.Unlock()
	if len(terminated) != 1 || terminated[0] != "https://storage.test/upload/"+abandoned.String() {
		t.Fatalf("expected the abandoned upload to be terminated, got %v", terminated)
	}
	if tasks := f.engine.Tasks(uuid.Nil); len(tasks) != 0 {
		t.Fatalf("cancel must not start any task, got %+v", tasks)
	}
	if n := len(transport.patchesFor(kept)); n != 0 {
		t.Fatalf("unrelated task must not transfer, got %d patches", n)
	}
}
