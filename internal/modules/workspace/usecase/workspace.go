package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"

	authdomain "pocus/internal/modules/auth/domain"
	authdto "pocus/internal/modules/auth/dto"
	authin "pocus/internal/modules/auth/port/in"
	memberdomain "pocus/internal/modules/membership/domain"
	memberin "pocus/internal/modules/membership/port/in"
	studydomain "pocus/internal/modules/study/domain"
	studydto "pocus/internal/modules/study/dto"
	studyin "pocus/internal/modules/study/port/in"
	uploaddomain "pocus/internal/modules/upload/domain"
	uploaddto "pocus/internal/modules/upload/dto"
	uploadin "pocus/internal/modules/upload/port/in"
	"pocus/internal/modules/workspace/domain"
	"pocus/internal/modules/workspace/dto"
	workspacein "pocus/internal/modules/workspace/port/in"
	workspaceout "pocus/internal/modules/workspace/port/out"
	"pocus/internal/modules/workspace/service"
	"pocus/internal/platform/clock"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/logging"
	"pocus/internal/platform/retry"
)

type Deps struct {
	Auth        authin.Usecase
	Memberships memberin.Usecase
	Studies     studyin.Usecase
	Uploads     uploadin.Engine
	Preferences workspaceout.PreferenceStore
	Activity    workspaceout.ActivityPublisher
	Clock       clock.Clock
	Logger      hclog.Logger

	// AttachPolicy bounds the media insert that follows a completed upload.
	AttachPolicy retry.Policy
}

type Interactor struct {
	auth     authin.Usecase
	members  memberin.Usecase
	studies  studyin.Usecase
	uploads  uploadin.Engine
	prefs    workspaceout.PreferenceStore
	activity workspaceout.ActivityPublisher
	clock    clock.Clock
	attach   retry.Policy
	logger   hclog.Logger
	state    *service.StateContainer

	// bridge bookkeeping, keyed by upload task id
	bridgeMu  sync.Mutex
	persisted map[uuid.UUID]bool
	inflight  map[uuid.UUID]bool
	failed    map[uuid.UUID]bool
	parked    map[uuid.UUID]uploaddomain.Task
}

func NewInteractor(deps Deps) workspacein.Usecase {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	attach := deps.AttachPolicy
	if attach.Clock == nil {
		attach.Clock = clk
	}
	return &Interactor{
		auth:      deps.Auth,
		members:   deps.Memberships,
		studies:   deps.Studies,
		uploads:   deps.Uploads,
		prefs:     deps.Preferences,
		activity:  deps.Activity,
		clock:     clk,
		attach:    attach,
		logger:    logger.Named("workspace"),
		state:     service.NewStateContainer(),
		persisted: map[uuid.UUID]bool{},
		inflight:  map[uuid.UUID]bool{},
		failed:    map[uuid.UUID]bool{},
		parked:    map[uuid.UUID]uploaddomain.Task{},
	}
}

func (i *Interactor) Bootstrap(ctx context.Context) error {
	epoch := i.state.Reset(func(s *domain.State) {
		s.ClearSession()
		s.Phase = domain.PhaseLoading
	})
	session, err := i.auth.CurrentSession(ctx)
	if err != nil {
		i.state.UpdateIf(epoch, func(s *domain.State) {
			s.Phase = domain.PhaseLogin
			if !errors.Is(err, apperrors.ErrNoSession) {
				s.Raise("Unable to restore session: " + err.Error())
			}
		})
		if errors.Is(err, apperrors.ErrNoSession) {
			return nil
		}
		return err
	}
	return i.enter(ctx, epoch, session.User)
}

func (i *Interactor) RequestCode(ctx context.Context, email string) error {
	st, epoch := i.state.Read()
	switch st.Phase {
	case domain.PhaseLoading, domain.PhaseLogin, domain.PhaseCodeEntry:
	default:
		return i.fail(epoch, "Failed to send code", fmt.Errorf("%w: sign out first", apperrors.ErrInvalidTransition))
	}
	out, err := i.auth.RequestCode(ctx, authdto.RequestCodeInput{Email: email})
	if err != nil {
		return i.fail(epoch, "Failed to send code", err)
	}
	i.state.UpdateIf(epoch, func(s *domain.State) {
		s.Phase = domain.PhaseCodeEntry
		s.Email = out.Email
	})
	return nil
}

func (i *Interactor) VerifyCode(ctx context.Context, code string) error {
	st, epoch := i.state.Read()
	if st.Phase != domain.PhaseCodeEntry {
		return i.fail(epoch, "Verification failed", fmt.Errorf("%w: request a code first", apperrors.ErrInvalidTransition))
	}
	session, err := i.auth.VerifyCode(ctx, authdto.VerifyCodeInput{Email: st.Email, Code: code})
	if err != nil {
		return i.fail(epoch, "Verification failed", err)
	}
	next := i.state.Reset(func(s *domain.State) { s.Phase = domain.PhaseLoading })
	return i.enter(ctx, next, session.User)
}

// enter resolves memberships for a signed-in user and picks the next phase.
func (i *Interactor) enter(ctx context.Context, epoch uint64, user authdomain.User) error {
	i.state.UpdateIf(epoch, func(s *domain.State) {
		s.Phase = domain.PhaseLoading
		s.Email = user.Email
		s.User = user
	})
	memberships, err := i.members.FetchMemberships(ctx, user.ID)
	if err != nil {
		i.state.UpdateIf(epoch, func(s *domain.State) {
			s.ClearSession()
			s.Phase = domain.PhaseLogin
			s.Raise("Unable to load institutions: " + err.Error())
		})
		return err
	}
	if len(memberships) == 0 {
		i.state.UpdateIf(epoch, func(s *domain.State) {
			s.ClearSession()
			s.Phase = domain.PhaseLogin
			s.Raise("No institution memberships found.")
		})
		return fmt.Errorf("%w: %s has no institution memberships", apperrors.ErrNotInWorkspace, user.Email)
	}
	if !i.state.UpdateIf(epoch, func(s *domain.State) { s.Memberships = memberships }) {
		return nil
	}

	if remembered := i.rememberedInstitution(ctx); remembered != uuid.Nil {
		if m, ok := memberdomain.Find(memberships, remembered); ok {
			return i.activate(ctx, epoch, user, m)
		}
	}
	if len(memberships) == 1 {
		return i.activate(ctx, epoch, user, memberships[0])
	}
	i.state.UpdateIf(epoch, func(s *domain.State) { s.Phase = domain.PhaseSelectingInstitution })
	return nil
}

func (i *Interactor) rememberedInstitution(ctx context.Context) uuid.UUID {
	if i.prefs == nil {
		return uuid.Nil
	}
	raw, ok, err := i.prefs.Get(ctx, domain.InstitutionKey)
	if err != nil {
		i.logger.Warn("read remembered institution", "error", err)
		return uuid.Nil
	}
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (i *Interactor) activate(ctx context.Context, epoch uint64, user authdomain.User, m memberdomain.Membership) error {
	ok := i.state.UpdateIf(epoch, func(s *domain.State) {
		if s.Session == nil || s.Session.Membership.InstitutionID != m.InstitutionID {
			s.Studies = nil
			s.Detail = nil
		}
		s.Session = &domain.ActiveSession{User: user, Membership: m}
		s.Phase = domain.PhaseDashboard
	})
	if !ok {
		return nil
	}
	if i.prefs != nil {
		if err := i.prefs.Set(ctx, domain.InstitutionKey, m.InstitutionID.String()); err != nil {
			i.logger.Warn("remember institution", "institution_id", m.InstitutionID, "error", err)
		}
	}
	i.logger.Info("workspace active", "user_id", user.ID, "institution", m.Institution.Slug, "role", m.Role)
	err := i.RefreshStudies(ctx)
	i.flushParked(ctx)
	return err
}

func (i *Interactor) SelectInstitution(ctx context.Context, institutionID uuid.UUID) error {
	st, epoch := i.state.Read()
	if st.Phase != domain.PhaseSelectingInstitution && st.Phase != domain.PhaseDashboard {
		return i.fail(epoch, "Unable to select institution", fmt.Errorf("%w: not signed in", apperrors.ErrNoSession))
	}
	m, ok := memberdomain.Find(st.Memberships, institutionID)
	if !ok {
		return i.fail(epoch, "Unable to select institution", fmt.Errorf("%w: no membership for institution %s", apperrors.ErrInvalidInput, institutionID))
	}
	return i.activate(ctx, epoch, st.User, m)
}

func (i *Interactor) SignOut(ctx context.Context) error {
	if err := i.auth.SignOut(ctx); err != nil {
		i.logger.Warn("remote sign out failed", "error", err)
	}
	if i.prefs != nil {
		if err := i.prefs.Delete(ctx, domain.InstitutionKey); err != nil {
			i.logger.Warn("forget institution", "error", err)
		}
	}
	i.state.Reset(func(s *domain.State) {
		s.ClearSession()
		s.Phase = domain.PhaseLogin
		s.Banner = nil
	})
	return nil
}

func (i *Interactor) RefreshStudies(ctx context.Context) error {
	st, epoch, err := i.current("Unable to load studies")
	if err != nil {
		return err
	}
	studies, err := i.studies.List(ctx, st.Session.Membership.InstitutionID, nil)
	if err != nil {
		return i.fail(epoch, "Unable to load studies", err)
	}
	i.flushParked(ctx)
	var reopen *studydomain.Study
	i.state.UpdateIf(epoch, func(s *domain.State) {
		previous := s.Studies
		s.Studies = nil
		for _, study := range studies {
			for _, old := range previous {
				if old.ID == study.ID && study.SubmittedAt == nil && old.SubmittedAt != nil {
					study.SubmittedAt = old.SubmittedAt
				}
			}
			s.Studies = append(s.Studies, study)
		}
		if s.Detail == nil {
			return
		}
		for _, study := range s.Studies {
			if study.ID == s.Detail.Study.ID {
				updated := study
				reopen = &updated
			}
		}
	})
	if reopen != nil {
		return i.loadDetail(ctx, epoch, *reopen)
	}
	return nil
}

func (i *Interactor) CreateStudy(ctx context.Context, input dto.CreateStudyInput) (studydomain.Study, error) {
	st, epoch, err := i.current("Unable to create study")
	if err != nil {
		return studydomain.Study{}, err
	}
	study, err := i.studies.CreateDraft(ctx, studydto.CreateDraftInput{
		InstitutionID: st.Session.Membership.InstitutionID,
		CreatedBy:     st.Session.User.ID,
		ExamType:      input.ExamType,
		Notes:         input.Notes,
	})
	if err != nil {
		return studydomain.Study{}, i.fail(epoch, "Unable to create study", err)
	}
	i.state.UpdateIf(epoch, func(s *domain.State) {
		s.PutStudy(study)
		s.Detail = &studydomain.Detail{Study: study}
	})
	i.publish(ctx, st, domain.Activity{Kind: domain.ActivityStudyCreated, StudyID: study.ID, Detail: study.ExamType})
	return study, nil
}

func (i *Interactor) OpenStudy(ctx context.Context, studyID uuid.UUID) error {
	_, study, epoch, err := i.study("Unable to load study detail", studyID)
	if err != nil {
		return err
	}
	i.flushParked(ctx)
	return i.loadDetail(ctx, epoch, study)
}

func (i *Interactor) CloseStudy() {
	i.state.Update(func(s *domain.State) { s.Detail = nil })
}

func (i *Interactor) loadDetail(ctx context.Context, epoch uint64, study studydomain.Study) error {
	detail, err := i.studies.LoadDetail(ctx, study)
	if err != nil {
		return i.fail(epoch, "Unable to load study detail", err)
	}
	i.state.UpdateIf(epoch, func(s *domain.State) {
		if s.Detail != nil && s.Detail.Study.ID == detail.Study.ID && detail.Study.SubmittedAt == nil {
			detail.Study.SubmittedAt = s.Detail.Study.SubmittedAt
		}
		s.Detail = &detail
	})
	return nil
}

func (i *Interactor) SubmitStudy(ctx context.Context, studyID uuid.UUID) error {
	st, study, epoch, err := i.study("Failed to submit study", studyID)
	if err != nil {
		return err
	}
	updated, err := i.studies.Submit(ctx, study)
	if err != nil {
		return i.fail(epoch, "Failed to submit study", err)
	}
	i.applyWrite(ctx, epoch, updated)
	i.publish(ctx, st, domain.Activity{Kind: domain.ActivityStudySubmitted, StudyID: updated.ID})
	return nil
}

func (i *Interactor) ReviewStudy(ctx context.Context, input dto.ReviewInput) error {
	st, study, epoch, err := i.study("Unable to submit review", input.StudyID)
	if err != nil {
		return err
	}
	if !st.CanReview() {
		return i.fail(epoch, "Unable to submit review", fmt.Errorf("%w: role %s cannot review", apperrors.ErrInvalidInput, st.Session.Membership.Role))
	}
	out, err := i.studies.Review(ctx, studydto.ReviewInput{
		Study:      study,
		ReviewerID: st.Session.User.ID,
		Decision:   input.Decision,
		Rating:     input.Rating,
		Comments:   input.Comments,
	})
	if err != nil {
		return i.fail(epoch, "Unable to submit review", err)
	}
	i.applyWrite(ctx, epoch, out.Study)
	i.state.UpdateIf(epoch, func(s *domain.State) { s.Raise("Review saved.") })
	i.publish(ctx, st, domain.Activity{Kind: domain.ActivityStudyReviewed, StudyID: study.ID, Detail: string(out.Signoff.Status)})
	return nil
}

func (i *Interactor) FinalizeStudy(ctx context.Context, studyID uuid.UUID) error {
	st, study, epoch, err := i.study("Unable to sign off study", studyID)
	if err != nil {
		return err
	}
	if !st.CanReview() {
		return i.fail(epoch, "Unable to sign off study", fmt.Errorf("%w: role %s cannot sign off", apperrors.ErrInvalidInput, st.Session.Membership.Role))
	}
	updated, err := i.studies.Finalize(ctx, study)
	if err != nil {
		return i.fail(epoch, "Unable to sign off study", err)
	}
	i.applyWrite(ctx, epoch, updated)
	i.publish(ctx, st, domain.Activity{Kind: domain.ActivityStudyFinalized, StudyID: updated.ID})
	return nil
}

func (i *Interactor) SaveNotes(ctx context.Context, studyID uuid.UUID, notes string) error {
	_, _, epoch, err := i.study("Unable to save notes", studyID)
	if err != nil {
		return err
	}
	updated, err := i.studies.SaveNotes(ctx, studyID, notes)
	if err != nil {
		return i.fail(epoch, "Unable to save notes", err)
	}
	i.applyWrite(ctx, epoch, updated)
	return nil
}

// applyWrite folds a written study into the mirror and reloads the open detail
// so it observes the write.
func (i *Interactor) applyWrite(ctx context.Context, epoch uint64, updated studydomain.Study) {
	var reload *studydomain.Study
	i.state.UpdateIf(epoch, func(s *domain.State) {
		s.PutStudy(updated)
		if s.Detail != nil && s.Detail.Study.ID == updated.ID {
			study := s.Detail.Study
			reload = &study
		}
	})
	if reload != nil {
		_ = i.loadDetail(ctx, epoch, *reload)
	}
}

func (i *Interactor) SetFilter(raw string) error {
	filter, err := domain.ParseFilter(raw)
	if err != nil {
		return err
	}
	i.state.Update(func(s *domain.State) { s.Filter = filter })
	return nil
}

func (i *Interactor) EnqueueUpload(ctx context.Context, input dto.UploadInput) (uuid.UUID, error) {
	st, _, epoch, err := i.study("Failed to start upload", input.StudyID)
	if err != nil {
		return uuid.Nil, err
	}
	token, err := i.auth.AccessToken(ctx)
	if err != nil {
		return uuid.Nil, i.fail(epoch, "Failed to start upload", fmt.Errorf("%w: %v", apperrors.ErrAuthRequired, err))
	}
	handle, err := i.uploads.Enqueue(ctx, uploaddto.EnqueueInput{
		SourcePath:    input.SourcePath,
		StudyID:       input.StudyID,
		InstitutionID: st.Session.Membership.InstitutionID,
		ContentType:   input.ContentType,
		Token:         token,
		Options:       uploaddomain.DefaultOptions(),
	})
	if err != nil {
		return uuid.Nil, i.fail(epoch, "Failed to start upload", err)
	}
	if task, ok := i.uploads.Snapshot(handle.ID); ok {
		i.track(task)
	}
	return handle.ID, nil
}

func (i *Interactor) CancelUpload(ctx context.Context, taskID uuid.UUID) {
	i.uploads.Cancel(ctx, taskID)
}

func (i *Interactor) ResumeUploads(ctx context.Context) (int, error) {
	n, err := i.uploads.ResumePersisted(ctx)
	if err != nil {
		return n, i.fail(i.state.Epoch(), "Unable to resume uploads", err)
	}
	for _, task := range i.uploads.Tasks(uuid.Nil) {
		i.track(task)
	}
	return n, nil
}

// track records a task snapshot unless a newer event already did.
func (i *Interactor) track(task uploaddomain.Task) {
	i.state.Update(func(s *domain.State) {
		if _, seen := s.Uploads[task.ID]; !seen {
			s.Uploads[task.ID] = task
		}
	})
}

// Run consumes the upload event stream until ctx ends or the engine closes it.
func (i *Interactor) Run(ctx context.Context) error {
	events := i.uploads.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			i.HandleUploadEvent(ctx, event)
		}
	}
}

func (i *Interactor) HandleUploadEvent(ctx context.Context, event uploaddomain.Event) {
	task := event.Task
	task.ID = event.TaskID
	task.Status = event.Status
	i.state.Update(func(s *domain.State) { s.Uploads[task.ID] = task })

	switch event.Status {
	case uploaddomain.StatusCompleted:
		i.completed(ctx, task)
	case uploaddomain.StatusFailed:
		i.uploadFailed(ctx, task, event.Reason)
	}
}

func (i *Interactor) uploadFailed(ctx context.Context, task uploaddomain.Task, reason string) {
	i.bridgeMu.Lock()
	seen := i.failed[task.ID]
	i.failed[task.ID] = true
	i.bridgeMu.Unlock()
	if seen {
		return
	}
	if reason == uploaddomain.ReasonCancelled {
		i.logger.Info("upload cancelled", "task_id", task.ID)
		return
	}
	i.state.Update(func(s *domain.State) { s.Raise("Upload failed: " + reason) })
	st, _ := i.state.Read()
	taskID := task.ID
	i.publish(ctx, st, domain.Activity{Kind: domain.ActivityUploadFailed, StudyID: task.StudyID, TaskID: &taskID, InstitutionID: task.InstitutionID, Detail: reason})
}

// completed turns a finished transfer into exactly one media row. Completions
// arriving outside a dashboard of the task's institution wait in parked.
func (i *Interactor) completed(ctx context.Context, task uploaddomain.Task) {
	i.bridgeMu.Lock()
	if i.persisted[task.ID] || i.inflight[task.ID] {
		i.bridgeMu.Unlock()
		return
	}
	st, _ := i.state.Read()
	if st.Phase != domain.PhaseDashboard || st.Session == nil || st.Session.Membership.InstitutionID != task.InstitutionID {
		i.parked[task.ID] = task
		i.bridgeMu.Unlock()
		i.logger.Debug("parked completed upload", "task_id", task.ID)
		return
	}
	delete(i.parked, task.ID)
	i.inflight[task.ID] = true
	i.bridgeMu.Unlock()

	var media studydomain.Media
	err := i.attach.Do(ctx, func(ctx context.Context, attempt int) error {
		m, err := i.studies.AttachMedia(ctx, studydto.AttachMediaInput{
			ID:          task.ID,
			StudyID:     task.StudyID,
			StoragePath: task.ObjectName,
			ContentType: task.ContentType,
		})
		if err == nil {
			media = m
			return nil
		}
		if errors.Is(err, apperrors.ErrTransport) {
			return err
		}
		return retry.Permanent(err)
	})
	duplicate := errors.Is(err, apperrors.ErrConflict)

	i.bridgeMu.Lock()
	delete(i.inflight, task.ID)
	if err == nil || duplicate {
		i.persisted[task.ID] = true
	} else if errors.Is(err, apperrors.ErrTransport) {
		// The bytes are stored; the next refresh, open or dashboard entry tries again.
		i.parked[task.ID] = task
	}
	i.bridgeMu.Unlock()

	if err != nil && !duplicate {
		i.logger.Error("persist media", "task_id", task.ID, "error", err)
		i.state.Update(func(s *domain.State) { s.Raise("Unable to persist media: " + err.Error()) })
		return
	}
	i.state.Update(func(s *domain.State) {
		s.Persisted[task.ID] = true
		if duplicate || s.Detail == nil || s.Detail.Study.ID != task.StudyID {
			return
		}
		for _, existing := range s.Detail.Media {
			if existing.ID == media.ID {
				return
			}
		}
		s.Detail.Media = append([]studydomain.Media{media}, s.Detail.Media...)
	})
	if !duplicate {
		taskID := task.ID
		i.publish(ctx, st, domain.Activity{Kind: domain.ActivityMediaPersisted, StudyID: task.StudyID, TaskID: &taskID, Detail: task.ObjectName})
	}
}

func (i *Interactor) flushParked(ctx context.Context) {
	st, _ := i.state.Read()
	if st.Session == nil {
		return
	}
	i.bridgeMu.Lock()
	ready := []uploaddomain.Task{}
	for id, task := range i.parked {
		if task.InstitutionID == st.Session.Membership.InstitutionID {
			ready = append(ready, task)
			delete(i.parked, id)
		}
	}
	i.bridgeMu.Unlock()
	for _, task := range ready {
		i.completed(ctx, task)
	}
}

func (i *Interactor) DismissBanner() {
	i.state.Update(func(s *domain.State) { s.Banner = nil })
}

func (i *Interactor) Snapshot() dto.Snapshot {
	st, _ := i.state.Read()
	return dto.NewSnapshot(st)
}

func (i *Interactor) Subscribe(ctx context.Context) <-chan dto.Snapshot {
	return i.state.Subscribe(ctx)
}

func (i *Interactor) current(action string) (domain.State, uint64, error) {
	st, epoch := i.state.Read()
	if st.Phase != domain.PhaseDashboard || st.Session == nil {
		return st, epoch, i.fail(epoch, action, apperrors.ErrNotInWorkspace)
	}
	return st, epoch, nil
}

func (i *Interactor) study(action string, studyID uuid.UUID) (domain.State, studydomain.Study, uint64, error) {
	st, epoch, err := i.current(action)
	if err != nil {
		return st, studydomain.Study{}, epoch, err
	}
	study, ok := st.FindStudy(studyID)
	if !ok {
		return st, studydomain.Study{}, epoch, i.fail(epoch, action, fmt.Errorf("%w: study %s", apperrors.ErrNotFound, studyID))
	}
	return st, study, epoch, nil
}

// fail raises a banner for the session the failed call belonged to.
func (i *Interactor) fail(epoch uint64, action string, err error) error {
	i.logger.Warn(strings.ToLower(action), "error", err)
	i.state.UpdateIf(epoch, func(s *domain.State) { s.Raise(action + ": " + err.Error()) })
	return err
}

func (i *Interactor) publish(ctx context.Context, st domain.State, activity domain.Activity) {
	if i.activity == nil {
		return
	}
	activity.At = i.clock.Now()
	if st.Session != nil {
		activity.ActorID = st.Session.User.ID
		if activity.InstitutionID == uuid.Nil {
			activity.InstitutionID = st.Session.Membership.InstitutionID
		}
	}
	if err := i.activity.Publish(ctx, activity); err != nil {
		i.logger.Warn("publish activity", "kind", activity.Kind, "error", err)
	}
}
