package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
)

type user struct {
	ID    uuid.UUID
	Email string
}

type membership struct {
	UserID        uuid.UUID
	InstitutionID uuid.UUID
	Role          string
}

// otp is a pending one-time code; only its bcrypt hash is kept.
type otp struct {
	Hash      []byte
	ExpiresAt time.Time
	Attempts  int
}

// grant ties a refresh token to the sign-in session it continues.
type grant struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

type upload struct {
	ID     string
	Owner  uuid.UUID
	Key    string
	Length int64
	Data   []byte
	Meta   map[string]string
	Upsert bool
}

func (u *upload) offset() int64 {
	return int64(len(u.Data))
}

type store struct {
	mu           sync.Mutex
	users        map[string]user
	codes        map[string]otp
	refresh      map[string]grant
	revoked      map[uuid.UUID]bool
	institutions map[uuid.UUID]memberdomain.Institution
	memberships  []membership
	studies      map[uuid.UUID]studydomain.Study
	media        map[uuid.UUID]studydomain.Media
	feedback     map[uuid.UUID]studydomain.Feedback
	signoffs     map[uuid.UUID]studydomain.Signoff
	uploads      map[string]*upload
	objects      map[string][]byte
	failPatches  int
}

func newStore() *store {
	return &store{
		users:        map[string]user{},
		codes:        map[string]otp{},
		refresh:      map[string]grant{},
		revoked:      map[uuid.UUID]bool{},
		institutions: map[uuid.UUID]memberdomain.Institution{},
		studies:      map[uuid.UUID]studydomain.Study{},
		media:        map[uuid.UUID]studydomain.Media{},
		feedback:     map[uuid.UUID]studydomain.Feedback{},
		signoffs:     map[uuid.UUID]studydomain.Signoff{},
		uploads:      map[string]*upload{},
		objects:      map[string][]byte{},
	}
}

func (s *store) userByID(userID uuid.UUID) (user, bool) {
	for _, u := range s.users {
		if u.ID == userID {
			return u, true
		}
	}
	return user{}, false
}

// roleIn reports the caller's normalised role in an institution.
func (s *store) roleIn(userID, institutionID uuid.UUID) (memberdomain.Role, bool) {
	for _, m := range s.memberships {
		if m.UserID == userID && m.InstitutionID == institutionID {
			return memberdomain.ParseRole(m.Role), true
		}
	}
	return "", false
}

// visibleStudy returns a study only when the caller belongs to its institution.
func (s *store) visibleStudy(userID, studyID uuid.UUID) (studydomain.Study, bool) {
	study, ok := s.studies[studyID]
	if !ok {
		return studydomain.Study{}, false
	}
	if _, member := s.roleIn(userID, study.InstitutionID); !member {
		return studydomain.Study{}, false
	}
	return study, true
}
