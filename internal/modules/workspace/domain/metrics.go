package domain

import (
	"github.com/google/uuid"

	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
)

// ProgramMetrics summarises the loaded studies of the active institution.
type ProgramMetrics struct {
	Studies        int
	Submitters     int
	AwaitingReview int
	Reviewed       int
	// AcceptanceRate is the share of reviewed studies that were approved, 0 when none were reviewed.
	AcceptanceRate float64
	ByStatus       map[studydomain.Status]int
}

// Metrics is only available to administrators.
func (s State) Metrics() (ProgramMetrics, bool) {
	if s.Session == nil || s.Session.Membership.Role != memberdomain.RoleAdministrator {
		return ProgramMetrics{}, false
	}
	m := ProgramMetrics{Studies: len(s.Studies), ByStatus: map[studydomain.Status]int{}}
	submitters := map[uuid.UUID]bool{}
	accepted := 0
	for _, study := range s.Studies {
		m.ByStatus[study.Status]++
		if study.Status != studydomain.StatusDraft {
			submitters[study.CreatedBy] = true
		}
		switch study.Status {
		case studydomain.StatusSubmitted, studydomain.StatusReviewable:
			m.AwaitingReview++
		case studydomain.StatusNeedsRevision:
			m.Reviewed++
		case studydomain.StatusApproved, studydomain.StatusSignedOff:
			m.Reviewed++
			accepted++
		}
	}
	m.Submitters = len(submitters)
	if m.Reviewed > 0 {
		m.AcceptanceRate = float64(accepted) / float64(m.Reviewed)
	}
	return m, true
}
