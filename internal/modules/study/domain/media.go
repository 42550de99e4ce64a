package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindClip  MediaKind = "clip"
	KindOther MediaKind = "other"
)

type MediaStatus string

const (
	MediaPending   MediaStatus = "pending"
	MediaUploading MediaStatus = "uploading"
	MediaClean     MediaStatus = "clean"
	MediaFailed    MediaStatus = "failed"
)

func KindForContentType(contentType string) MediaKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	default:
		return KindOther
	}
}

// Media exists only once its bytes are durably stored at StoragePath.
type Media struct {
	ID          uuid.UUID   `json:"id"`
	StudyID     uuid.UUID   `json:"study_id"`
	Kind        MediaKind   `json:"kind"`
	StoragePath string      `json:"storage_path"`
	ContentType string      `json:"content_type"`
	DurationSec *float64    `json:"duration_sec"`
	Width       *int        `json:"width"`
	Height      *int        `json:"height"`
	SHA256      *string     `json:"sha256"`
	Status      MediaStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

type NewMedia struct {
	ID          uuid.UUID   `json:"id"`
	StudyID     uuid.UUID   `json:"study_id"`
	Kind        MediaKind   `json:"kind"`
	StoragePath string      `json:"storage_path"`
	ContentType string      `json:"content_type"`
	DurationSec *float64    `json:"duration_sec,omitempty"`
	Width       *int        `json:"width,omitempty"`
	Height      *int        `json:"height,omitempty"`
	SHA256      *string     `json:"sha256,omitempty"`
	Status      MediaStatus `json:"status"`
}
