package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	authdomain "pocus/internal/modules/auth/domain"
	authdto "pocus/internal/modules/auth/dto"
	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
	studydto "pocus/internal/modules/study/dto"
	uploaddomain "pocus/internal/modules/upload/domain"
	uploaddto "pocus/internal/modules/upload/dto"
	"pocus/internal/modules/workspace/domain"
	workspacein "pocus/internal/modules/workspace/port/in"
	"pocus/internal/modules/workspace/usecase"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/retry"
)

const validCode = "123456"

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *stepClock) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type fakeAuth struct {
	mu         sync.Mutex
	user       authdomain.User
	signedIn   bool
	signOutErr error
	signOuts   int
}

func (f *fakeAuth) RequestCode(_ context.Context, input authdto.RequestCodeInput) (authdto.RequestCodeOutput, error) {
	email := authdomain.NormalizeEmail(input.Email)
	if !authdomain.PlausibleEmail(email) {
		return authdto.RequestCodeOutput{}, apperrors.ErrInvalidInput
	}
	return authdto.RequestCodeOutput{Email: email}, nil
}

func (f *fakeAuth) VerifyCode(_ context.Context, input authdto.VerifyCodeInput) (authdomain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if input.Code != validCode {
		return authdomain.Session{}, apperrors.ErrInvalidCode
	}
	f.signedIn = true
	return f.sessionLocked(), nil
}

func (f *fakeAuth) sessionLocked() authdomain.Session {
	return authdomain.Session{User: f.user, AccessToken: "access-" + f.user.ID.String(), RefreshToken: "refresh"}
}

func (f *fakeAuth) CurrentSession(context.Context) (authdomain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signedIn {
		return authdomain.Session{}, apperrors.ErrNoSession
	}
	return f.sessionLocked(), nil
}

func (f *fakeAuth) AccessToken(ctx context.Context) (string, error) {
	session, err := f.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedIn = false
	f.signOuts++
	return f.signOutErr
}

type fakeMembers struct {
	byUser map[uuid.UUID][]memberdomain.Membership
	err    error
}

func (f *fakeMembers) FetchMemberships(_ context.Context, userID uuid.UUID) ([]memberdomain.Membership, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]memberdomain.Membership(nil), f.byUser[userID]...), nil
}

// fakeStudies keeps rows in memory and applies the real status graph.
type fakeStudies struct {
	mu          sync.Mutex
	clock       *stepClock
	rows        map[uuid.UUID]studydomain.Study
	media       map[uuid.UUID]studydomain.Media
	attachCalls int
	attachErrs  []error
	submitErr   error
	listErr     error
	listEntered chan struct{}
	listGate    chan struct{}
}

func newFakeStudies(clock *stepClock) *fakeStudies {
	return &fakeStudies{clock: clock, rows: map[uuid.UUID]studydomain.Study{}, media: map[uuid.UUID]studydomain.Media{}}
}

func (f *fakeStudies) put(study studydomain.Study) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[study.ID] = study
}

func (f *fakeStudies) row(id uuid.UUID) studydomain.Study {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeStudies) List(_ context.Context, institutionID uuid.UUID, _ []studydomain.Status) ([]studydomain.Study, error) {
	if f.listEntered != nil {
		f.listEntered <- struct{}{}
	}
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []studydomain.Study{}
	for _, study := range f.rows {
		if study.InstitutionID == institutionID {
			out = append(out, study)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStudies) CreateDraft(_ context.Context, input studydto.CreateDraftInput) (studydomain.Study, error) {
	if strings.TrimSpace(input.ExamType) == "" {
		return studydomain.Study{}, apperrors.ErrInvalidInput
	}
	study := studydomain.Study{
		ID:            uuid.New(),
		InstitutionID: input.InstitutionID,
		CreatedBy:     input.CreatedBy,
		ExamType:      input.ExamType,
		Status:        studydomain.StatusDraft,
		CreatedAt:     f.clock.Now(),
	}
	f.put(study)
	return study, nil
}

func (f *fakeStudies) move(study studydomain.Study, to studydomain.Status) (studydomain.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, err := study.Transition(to, f.clock.Now())
	if err != nil {
		return studydomain.Study{}, err
	}
	row := f.rows[study.ID]
	row.Status = change.Status
	if change.SubmittedAt != nil {
		row.SubmittedAt = change.SubmittedAt
	}
	f.rows[study.ID] = row
	return row, nil
}

func (f *fakeStudies) Submit(_ context.Context, study studydomain.Study) (studydomain.Study, error) {
	if f.submitErr != nil {
		return studydomain.Study{}, f.submitErr
	}
	return f.move(study, studydomain.StatusSubmitted)
}

func (f *fakeStudies) Review(_ context.Context, input studydto.ReviewInput) (studydto.ReviewOutput, error) {
	decision, err := studydomain.ParseDecision(input.Decision)
	if err != nil {
		return studydto.ReviewOutput{}, err
	}
	updated, err := f.move(input.Study, decision.TargetStatus())
	if err != nil {
		return studydto.ReviewOutput{}, err
	}
	return studydto.ReviewOutput{Study: updated, Signoff: studydomain.Signoff{StudyID: updated.ID, Status: decision.SignoffStatus()}}, nil
}

func (f *fakeStudies) Finalize(_ context.Context, study studydomain.Study) (studydomain.Study, error) {
	return f.move(study, studydomain.StatusSignedOff)
}

func (f *fakeStudies) ChangeStatus(_ context.Context, study studydomain.Study, to studydomain.Status) (studydomain.Study, error) {
	return f.move(study, to)
}

func (f *fakeStudies) SaveNotes(_ context.Context, studyID uuid.UUID, notes string) (studydomain.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[studyID]
	if !ok {
		return studydomain.Study{}, apperrors.ErrNotFound
	}
	row.Notes = &notes
	f.rows[studyID] = row
	return row, nil
}

func (f *fakeStudies) AttachMedia(_ context.Context, input studydto.AttachMediaInput) (studydomain.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if len(f.attachErrs) > 0 {
		err := f.attachErrs[0]
		f.attachErrs = f.attachErrs[1:]
		if err != nil {
			return studydomain.Media{}, err
		}
	}
	if _, exists := f.media[input.ID]; exists {
		return studydomain.Media{}, fmt.Errorf("duplicate media: %w", apperrors.ErrConflict)
	}
	media := studydomain.Media{
		ID:          input.ID,
		StudyID:     input.StudyID,
		Kind:        studydomain.KindForContentType(input.ContentType),
		StoragePath: input.StoragePath,
		ContentType: input.ContentType,
		Status:      studydomain.MediaClean,
		CreatedAt:   f.clock.Now(),
	}
	f.media[media.ID] = media
	return media, nil
}

func (f *fakeStudies) LoadDetail(_ context.Context, study studydomain.Study) (studydomain.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail := studydomain.Detail{Study: study}
	for _, m := range f.media {
		if m.StudyID == study.ID {
			detail.Media = append(detail.Media, m)
		}
	}
	return detail, nil
}

func (f *fakeStudies) attaches() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls, len(f.media)
}

type fakeEngine struct {
	mu        sync.Mutex
	events    chan uploaddomain.Event
	enqueued  []uploaddto.EnqueueInput
	cancelled []uuid.UUID
	tasks     map[uuid.UUID]uploaddomain.Task
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan uploaddomain.Event, 16), tasks: map[uuid.UUID]uploaddomain.Task{}}
}

func (f *fakeEngine) Enqueue(_ context.Context, input uploaddto.EnqueueInput) (uploaddomain.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if input.Token == "" {
		return uploaddomain.Handle{}, apperrors.ErrAuthRequired
	}
	if strings.TrimSpace(input.SourcePath) == "" {
		return uploaddomain.Handle{}, apperrors.ErrSourceUnavailable
	}
	id := uuid.New()
	name := uploaddomain.ObjectName(input.InstitutionID, input.StudyID, id, input.SourcePath, input.ContentType)
	f.enqueued = append(f.enqueued, input)
	f.tasks[id] = uploaddomain.Task{
		ID:            id,
		StudyID:       input.StudyID,
		InstitutionID: input.InstitutionID,
		ObjectName:    name,
		ContentType:   input.ContentType,
		SourcePath:    input.SourcePath,
		Status:        uploaddomain.StatusQueued,
	}
	return uploaddomain.Handle{ID: id, ObjectName: name}, nil
}

func (f *fakeEngine) Cancel(_ context.Context, taskID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
}

func (f *fakeEngine) ResumePersisted(context.Context) (int, error) { return 0, nil }

func (f *fakeEngine) Events() <-chan uploaddomain.Event { return f.events }

func (f *fakeEngine) Snapshot(taskID uuid.UUID) (uploaddomain.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	return task, ok
}

func (f *fakeEngine) Tasks(uuid.UUID) []uploaddomain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []uploaddomain.Task{}
	for _, task := range f.tasks {
		out = append(out, task)
	}
	return out
}

func (f *fakeEngine) Close() error { return nil }

type memPrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memPrefs) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memPrefs) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memPrefs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memPrefs) Close() error { return nil }

type recordingPublisher struct {
	mu         sync.Mutex
	activities []domain.Activity
}

func (r *recordingPublisher) Publish(_ context.Context, activity domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, activity)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) kinds() []domain.ActivityKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.ActivityKind{}
	for _, a := range r.activities {
		out = append(out, a.Kind)
	}
	return out
}

type harness struct {
	uc       workspacein.Usecase
	clock    *stepClock
	auth     *fakeAuth
	members  *fakeMembers
	studies  *fakeStudies
	engine   *fakeEngine
	prefs    *memPrefs
	activity *recordingPublisher
	user     authdomain.User
}

func newHarness(t *testing.T, roles ...memberdomain.Role) (*harness, []memberdomain.Membership) {
	t.Helper()
	clk := &stepClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	user := authdomain.User{ID: uuid.New(), Email: "fellow@example.test"}
	memberships := []memberdomain.Membership{}
	for n, role := range roles {
		inst := memberdomain.Institution{ID: uuid.New(), Slug: fmt.Sprintf("site-%d", n), Name: fmt.Sprintf("Site %d", n)}
		memberships = append(memberships, memberdomain.Membership{UserID: user.ID, InstitutionID: inst.ID, Role: role, Institution: inst})
	}
	h := &harness{
		clock:    clk,
		auth:     &fakeAuth{user: user},
		members:  &fakeMembers{byUser: map[uuid.UUID][]memberdomain.Membership{user.ID: memberships}},
		studies:  newFakeStudies(clk),
		engine:   newFakeEngine(),
		prefs:    &memPrefs{values: map[string]string{}},
		activity: &recordingPublisher{},
		user:     user,
	}
	h.uc = usecase.NewInteractor(usecase.Deps{
		Auth:         h.auth,
		Memberships:  h.members,
		Studies:      h.studies,
		Uploads:      h.engine,
		Preferences:  h.prefs,
		Activity:     h.activity,
		Clock:        clk,
		AttachPolicy: retry.Policy{Attempts: 3, Backoff: time.Millisecond},
	})
	return h, memberships
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.uc.RequestCode(ctx, " Fellow@Example.test "); err != nil {
		t.Fatalf("request code: %v", err)
	}
	if err := h.uc.VerifyCode(ctx, validCode); err != nil {
		t.Fatalf("verify code: %v", err)
	}
}

func (h *harness) completedEvent(study studydomain.Study) uploaddomain.Event {
	id := uuid.New()
	task := uploaddomain.Task{
		ID:            id,
		StudyID:       study.ID,
		InstitutionID: study.InstitutionID,
		ObjectName:    uploaddomain.ObjectName(study.InstitutionID, study.ID, id, "clip.mov", "video/quicktime"),
		ContentType:   "video/quicktime",
		Size:          10,
		Offset:        10,
		Status:        uploaddomain.StatusCompleted,
	}
	return uploaddomain.Event{TaskID: id, Status: uploaddomain.StatusCompleted, Progress: 1, Task: task}
}

func failedEvent(task uploaddomain.Task, reason string) uploaddomain.Event {
	task.Status = uploaddomain.StatusFailed
	task.Reason = reason
	return uploaddomain.Event{TaskID: task.ID, Status: uploaddomain.StatusFailed, Reason: reason, Task: task}
}
