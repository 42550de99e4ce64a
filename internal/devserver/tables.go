package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
)

// Error codes follow the database the hosted backend runs on.
const (
	codeUniqueViolation = "23505"
	codeNotNull         = "23502"
	codeCheckViolation  = "23514"
	codeRowSecurity     = "42501"
)

type membershipRow struct {
	UserID        uuid.UUID                `json:"user_id"`
	InstitutionID uuid.UUID                `json:"institution_id"`
	Role          string                   `json:"role"`
	Institution   memberdomain.Institution `json:"institutions"`
}

func (s *Server) listMemberships(c echo.Context) error {
	caller := callerID(c)
	filter, _, err := eqID(c, "user_id")
	if err != nil {
		return badFilter(c, err)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	rows := []membershipRow{}
	for _, m := range s.store.memberships {
		if m.UserID != caller || (filter != uuid.Nil && m.UserID != filter) {
			continue
		}
		inst, ok := s.store.institutions[m.InstitutionID]
		if !ok {
			continue
		}
		rows = append(rows, membershipRow{UserID: m.UserID, InstitutionID: m.InstitutionID, Role: m.Role, Institution: inst})
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) listStudies(c echo.Context) error {
	caller := callerID(c)
	institution, _, err := eqID(c, "institution_id")
	if err != nil {
		return badFilter(c, err)
	}
	statuses, err := statusFilter(c.QueryParam("status"))
	if err != nil {
		return badFilter(c, err)
	}
	desc, err := descending(c.QueryParam("order"))
	if err != nil {
		return badFilter(c, err)
	}

	s.store.mu.Lock()
	rows := []studydomain.Study{}
	for _, study := range s.store.studies {
		if institution != uuid.Nil && study.InstitutionID != institution {
			continue
		}
		if statuses != nil && !statuses[study.Status] {
			continue
		}
		if _, member := s.store.roleIn(caller, study.InstitutionID); !member {
			continue
		}
		rows = append(rows, study)
	}
	s.store.mu.Unlock()

	sortByCreated(rows, desc, func(st studydomain.Study) (time.Time, uuid.UUID) { return st.CreatedAt, st.ID })
	return c.JSON(http.StatusOK, limit(c, rows))
}

func (s *Server) createStudy(c echo.Context) error {
	caller := callerID(c)
	var in studydomain.NewStudy
	if err := c.Bind(&in); err != nil {
		return badBody(c, err)
	}
	if strings.TrimSpace(in.ExamType) == "" {
		return dbError(c, http.StatusBadRequest, codeNotNull, `null value in column "exam_type" violates not-null constraint`)
	}
	status := studydomain.StatusDraft
	if in.Status != "" {
		parsed, err := studydomain.ParseStatus(string(in.Status))
		if err != nil {
			return dbError(c, http.StatusBadRequest, codeCheckViolation, err.Error())
		}
		status = parsed
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, member := s.store.roleIn(caller, in.InstitutionID); !member || in.CreatedBy != caller {
		return rowSecurity(c, "studies")
	}
	if in.ID == uuid.Nil {
		in.ID = s.opts.IDs.New()
	}
	if _, exists := s.store.studies[in.ID]; exists {
		return dbError(c, http.StatusConflict, codeUniqueViolation, `duplicate key value violates unique constraint "studies_pkey"`)
	}
	study := studydomain.Study{
		ID:            in.ID,
		InstitutionID: in.InstitutionID,
		CreatedBy:     in.CreatedBy,
		ExamType:      strings.TrimSpace(in.ExamType),
		Status:        status,
		Notes:         in.Notes,
		CreatedAt:     s.opts.Clock.Now().UTC(),
	}
	s.store.studies[study.ID] = study
	return represent(c, http.StatusCreated, []studydomain.Study{study})
}

// reviewerOnly lists the statuses only reviewers may move a study into.
var reviewerOnly = map[studydomain.Status]bool{
	studydomain.StatusReviewable:    true,
	studydomain.StatusApproved:      true,
	studydomain.StatusNeedsRevision: true,
	studydomain.StatusSignedOff:     true,
}

func (s *Server) updateStudy(c echo.Context) error {
	caller := callerID(c)
	studyID, ok, err := eqID(c, "id")
	if err != nil || !ok {
		return badFilter(c, fmt.Errorf("an id=eq. filter is required"))
	}
	patch := map[string]json.RawMessage{}
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return badBody(c, err)
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	study, ok := s.store.visibleStudy(caller, studyID)
	if !ok {
		return represent(c, http.StatusOK, []studydomain.Study{})
	}
	role, _ := s.store.roleIn(caller, study.InstitutionID)

	for column, value := range patch {
		switch column {
		case "status":
			var raw string
			if err := json.Unmarshal(value, &raw); err != nil {
				return badBody(c, err)
			}
			next, err := studydomain.ParseStatus(raw)
			if err != nil {
				return dbError(c, http.StatusBadRequest, codeCheckViolation, err.Error())
			}
			if next == study.Status {
				continue
			}
			if !studydomain.CanTransition(study.Status, next) {
				return dbError(c, http.StatusBadRequest, codeCheckViolation, fmt.Sprintf("illegal status change %s -> %s", study.Status, next))
			}
			if reviewerOnly[next] && !role.CanReview() {
				return rowSecurity(c, "studies")
			}
			study.Status = next
		case "submitted_at":
			var stamp *time.Time
			if err := json.Unmarshal(value, &stamp); err != nil {
				return badBody(c, err)
			}
			study.SubmittedAt = stamp
		case "notes":
			var notes *string
			if err := json.Unmarshal(value, &notes); err != nil {
				return badBody(c, err)
			}
			study.Notes = notes
		case "exam_type":
			var examType string
			if err := json.Unmarshal(value, &examType); err != nil || strings.TrimSpace(examType) == "" {
				return dbError(c, http.StatusBadRequest, codeNotNull, `null value in column "exam_type" violates not-null constraint`)
			}
			study.ExamType = strings.TrimSpace(examType)
		default:
			return dbError(c, http.StatusBadRequest, "PGRST204", fmt.Sprintf("Could not find the '%s' column of 'studies'", column))
		}
	}
	s.store.studies[study.ID] = study
	return represent(c, http.StatusOK, []studydomain.Study{study})
}

func (s *Server) listMedia(c echo.Context) error {
	caller := callerID(c)
	studyID, desc, err := studyScope(c)
	if err != nil {
		return badFilter(c, err)
	}
	s.store.mu.Lock()
	rows := []studydomain.Media{}
	if _, ok := s.store.visibleStudy(caller, studyID); ok {
		for _, m := range s.store.media {
			if m.StudyID == studyID {
				rows = append(rows, m)
			}
		}
	}
	s.store.mu.Unlock()
	sortByCreated(rows, desc, func(m studydomain.Media) (time.Time, uuid.UUID) { return m.CreatedAt, m.ID })
	return c.JSON(http.StatusOK, limit(c, rows))
}

func (s *Server) insertMedia(c echo.Context) error {
	caller := callerID(c)
	var in studydomain.NewMedia
	if err := c.Bind(&in); err != nil {
		return badBody(c, err)
	}
	if in.StoragePath == "" || in.ContentType == "" {
		return dbError(c, http.StatusBadRequest, codeNotNull, "storage_path and content_type are required")
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.visibleStudy(caller, in.StudyID); !ok {
		return rowSecurity(c, "media")
	}
	if in.ID == uuid.Nil {
		in.ID = s.opts.IDs.New()
	}
	if _, exists := s.store.media[in.ID]; exists {
		return dbError(c, http.StatusConflict, codeUniqueViolation, `duplicate key value violates unique constraint "media_pkey"`)
	}
	kind := in.Kind
	if kind == "" {
		kind = studydomain.KindForContentType(in.ContentType)
	}
	status := in.Status
	if status == "" {
		status = studydomain.MediaClean
	}
	media := studydomain.Media{
		ID:          in.ID,
		StudyID:     in.StudyID,
		Kind:        kind,
		StoragePath: in.StoragePath,
		ContentType: in.ContentType,
		DurationSec: in.DurationSec,
		Width:       in.Width,
		Height:      in.Height,
		SHA256:      in.SHA256,
		Status:      status,
		CreatedAt:   s.opts.Clock.Now().UTC(),
	}
	s.store.media[media.ID] = media
	return represent(c, http.StatusCreated, []studydomain.Media{media})
}

func (s *Server) listFeedback(c echo.Context) error {
	caller := callerID(c)
	studyID, desc, err := studyScope(c)
	if err != nil {
		return badFilter(c, err)
	}
	s.store.mu.Lock()
	rows := []studydomain.Feedback{}
	if _, ok := s.store.visibleStudy(caller, studyID); ok {
		for _, f := range s.store.feedback {
			if f.StudyID == studyID {
				rows = append(rows, f)
			}
		}
	}
	s.store.mu.Unlock()
	sortByCreated(rows, desc, func(f studydomain.Feedback) (time.Time, uuid.UUID) { return f.CreatedAt, f.ID })
	return c.JSON(http.StatusOK, limit(c, rows))
}

func (s *Server) insertFeedback(c echo.Context) error {
	caller := callerID(c)
	var in studydomain.NewFeedback
	if err := c.Bind(&in); err != nil {
		return badBody(c, err)
	}
	if !studydomain.ValidRating(in.Rating) {
		return dbError(c, http.StatusBadRequest, codeCheckViolation, `new row violates check constraint "feedback_rating_check"`)
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	study, ok := s.store.visibleStudy(caller, in.StudyID)
	if !ok || in.ReviewerID != caller {
		return rowSecurity(c, "feedback")
	}
	if role, _ := s.store.roleIn(caller, study.InstitutionID); !role.CanReview() {
		return rowSecurity(c, "feedback")
	}
	if in.ID == uuid.Nil {
		in.ID = s.opts.IDs.New()
	}
	if _, exists := s.store.feedback[in.ID]; exists {
		return dbError(c, http.StatusConflict, codeUniqueViolation, `duplicate key value violates unique constraint "feedback_pkey"`)
	}
	feedback := studydomain.Feedback{
		ID:         in.ID,
		StudyID:    in.StudyID,
		ReviewerID: in.ReviewerID,
		Rating:     in.Rating,
		Comments:   in.Comments,
		CreatedAt:  s.opts.Clock.Now().UTC(),
	}
	s.store.feedback[feedback.ID] = feedback
	return represent(c, http.StatusCreated, []studydomain.Feedback{feedback})
}

func (s *Server) listSignoffs(c echo.Context) error {
	caller := callerID(c)
	studyID, _, err := studyScope(c)
	if err != nil {
		return badFilter(c, err)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	rows := []studydomain.Signoff{}
	if _, ok := s.store.visibleStudy(caller, studyID); ok {
		if signoff, ok := s.store.signoffs[studyID]; ok {
			rows = append(rows, signoff)
		}
	}
	return c.JSON(http.StatusOK, rows)
}

// upsertSignoff keeps one sign-off per study. A second write merges into the
// existing row only when the client asked for merge-duplicates on study_id.
func (s *Server) upsertSignoff(c echo.Context) error {
	caller := callerID(c)
	var in studydomain.SignoffUpsert
	if err := c.Bind(&in); err != nil {
		return badBody(c, err)
	}
	merge := c.QueryParam("on_conflict") == "study_id" &&
		strings.Contains(c.Request().Header.Get("Prefer"), "resolution=merge-duplicates")

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	study, ok := s.store.visibleStudy(caller, in.StudyID)
	if !ok || in.AttendingID != caller {
		return rowSecurity(c, "signoffs")
	}
	if role, _ := s.store.roleIn(caller, study.InstitutionID); !role.CanReview() {
		return rowSecurity(c, "signoffs")
	}
	switch in.Status {
	case studydomain.SignoffPending, studydomain.SignoffApproved, studydomain.SignoffRevisions:
	default:
		return dbError(c, http.StatusBadRequest, codeCheckViolation, `new row violates check constraint "signoffs_status_check"`)
	}

	signoff := studydomain.Signoff{ID: in.ID, StudyID: in.StudyID, AttendingID: in.AttendingID, Status: in.Status, SignedAt: in.SignedAt}
	status := http.StatusCreated
	if existing, exists := s.store.signoffs[in.StudyID]; exists {
		if !merge {
			return dbError(c, http.StatusConflict, codeUniqueViolation, `duplicate key value violates unique constraint "signoffs_study_id_key"`)
		}
		signoff.ID = existing.ID
		status = http.StatusOK
	}
	if signoff.ID == uuid.Nil {
		signoff.ID = s.opts.IDs.New()
	}
	s.store.signoffs[in.StudyID] = signoff
	return represent(c, status, []studydomain.Signoff{signoff})
}

// eqID reads an "eq.<uuid>" filter. A missing filter yields uuid.Nil and false.
func eqID(c echo.Context, column string) (uuid.UUID, bool, error) {
	raw := c.QueryParam(column)
	if raw == "" {
		return uuid.Nil, false, nil
	}
	value, ok := strings.CutPrefix(raw, "eq.")
	if !ok {
		return uuid.Nil, false, fmt.Errorf("%s: only eq. filters are supported", column)
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%s: %w", column, err)
	}
	return parsed, true, nil
}

// statusFilter accepts "eq.<status>" and "in.(a,b)". An empty filter yields nil.
func statusFilter(raw string) (map[studydomain.Status]bool, error) {
	if raw == "" {
		return nil, nil
	}
	var names []string
	switch {
	case strings.HasPrefix(raw, "eq."):
		names = []string{strings.TrimPrefix(raw, "eq.")}
	case strings.HasPrefix(raw, "in.(") && strings.HasSuffix(raw, ")"):
		names = strings.Split(strings.TrimSuffix(strings.TrimPrefix(raw, "in.("), ")"), ",")
	default:
		return nil, fmt.Errorf("status: unsupported filter %q", raw)
	}
	out := map[studydomain.Status]bool{}
	for _, name := range names {
		status, err := studydomain.ParseStatus(strings.Trim(strings.TrimSpace(name), `"`))
		if err != nil {
			return nil, err
		}
		out[status] = true
	}
	return out, nil
}

func descending(order string) (bool, error) {
	switch order {
	case "", "created_at.asc", "created_at":
		return false, nil
	case "created_at.desc":
		return true, nil
	default:
		return false, fmt.Errorf("order: unsupported %q", order)
	}
}

func studyScope(c echo.Context) (uuid.UUID, bool, error) {
	studyID, ok, err := eqID(c, "study_id")
	if err != nil {
		return uuid.Nil, false, err
	}
	if !ok {
		return uuid.Nil, false, fmt.Errorf("a study_id=eq. filter is required")
	}
	desc, err := descending(c.QueryParam("order"))
	return studyID, desc, err
}

func sortByCreated[T any](rows []T, desc bool, key func(T) (time.Time, uuid.UUID)) {
	sort.Slice(rows, func(i, j int) bool {
		ti, idi := key(rows[i])
		tj, idj := key(rows[j])
		if !ti.Equal(tj) {
			if desc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		}
		return idi.String() < idj.String()
	})
}

func limit[T any](c echo.Context, rows []T) []T {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

// represent answers a write with the affected rows when the client asked for them.
func represent(c echo.Context, status int, rows any) error {
	if !strings.Contains(c.Request().Header.Get("Prefer"), "return=representation") {
		return c.NoContent(status)
	}
	return c.JSON(status, rows)
}

func dbError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, echo.Map{"code": code, "message": message})
}

func rowSecurity(c echo.Context, table string) error {
	return dbError(c, http.StatusForbidden, codeRowSecurity, fmt.Sprintf(`new row violates row-level security policy for table "%s"`, table))
}

func badFilter(c echo.Context, err error) error {
	return dbError(c, http.StatusBadRequest, "PGRST100", err.Error())
}

func badBody(c echo.Context, err error) error {
	return dbError(c, http.StatusBadRequest, "PGRST102", "invalid body: "+err.Error())
}
