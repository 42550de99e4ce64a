package domain

import (
	"time"

	"github.com/google/uuid"
)

type ActivityKind string

const (
	ActivityStudyCreated   ActivityKind = "study.created"
	ActivityStudySubmitted ActivityKind = "study.submitted"
	ActivityStudyReviewed  ActivityKind = "study.reviewed"
	ActivityStudyFinalized ActivityKind = "study.finalized"
	ActivityMediaPersisted ActivityKind = "media.persisted"
	ActivityUploadFailed   ActivityKind = "upload.failed"
)

// Activity is a fire-and-forget record of something the workspace did.
type Activity struct {
	Kind          ActivityKind `json:"kind"`
	StudyID       uuid.UUID    `json:"study_id"`
	TaskID        *uuid.UUID   `json:"task_id,omitempty"`
	InstitutionID uuid.UUID    `json:"institution_id"`
	ActorID       uuid.UUID    `json:"actor_id"`
	At            time.Time    `json:"at"`
	Detail        string       `json:"detail,omitempty"`
}
