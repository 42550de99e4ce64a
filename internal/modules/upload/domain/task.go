package domain

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReasonCancelled is the failure reason of a task stopped by its owner.
const ReasonCancelled = "cancelled"

// Options travel with the bytes as upload metadata.
type Options struct {
	CacheControl string
	Metadata     map[string]any
	Upsert       bool
}

func DefaultOptions() Options {
	return Options{
		CacheControl: "3600",
		Metadata:     map[string]any{"source": "pocus-cli", "deidentified": true},
		Upsert:       true,
	}
}

// Task is one chunked upload. Offset is the last byte offset the server acknowledged.
type Task struct {
	ID            uuid.UUID      `json:"id"`
	StudyID       uuid.UUID      `json:"study_id"`
	InstitutionID uuid.UUID      `json:"institution_id"`
	Bucket        string         `json:"bucket"`
	ObjectName    string         `json:"object_name"`
	ContentType   string         `json:"content_type"`
	SourcePath    string         `json:"source_path"`
	Size          int64          `json:"size"`
	Offset        int64          `json:"offset"`
	UploadURL     string         `json:"upload_url"`
	CacheControl  string         `json:"cache_control"`
	Metadata      map[string]any `json:"metadata"`
	Upsert        bool           `json:"upsert"`
	Token         string         `json:"token"`
	Status        Status         `json:"status"`
	Location      string         `json:"location,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (t Task) Progress() float64 {
	if t.Status == StatusCompleted {
		return 1
	}
	if t.Size <= 0 {
		return 0
	}
	p := float64(t.Offset) / float64(t.Size)
	if p > 1 {
		return 1
	}
	return p
}

// Clone returns a copy safe to hand to observers. The bearer token is not exposed.
func (t Task) Clone() Task {
	c := t
	c.Token = ""
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Event is one status change of one task.
type Event struct {
	TaskID   uuid.UUID
	Status   Status
	Progress float64
	Location string
	Reason   string
	Task     Task
}

type Handle struct {
	ID         uuid.UUID
	ObjectName string
}

var contentTypeExtensions = map[string]string{
	"video/quicktime": ".mov",
	"video/mp4":       ".mp4",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// Extension prefers the source file's extension and falls back to the content type.
func Extension(sourcePath, contentType string) string {
	if ext := filepath.Ext(sourcePath); ext != "" && ext != "." {
		return strings.ToLower(ext)
	}
	return contentTypeExtensions[strings.ToLower(strings.TrimSpace(contentType))]
}

// ObjectName is unique per task because the task id is part of it.
func ObjectName(institutionID, studyID, taskID uuid.UUID, sourcePath, contentType string) string {
	name := "studies/" + institutionID.String() + "/" + studyID.String() + "/" + taskID.String() + Extension(sourcePath, contentType)
	return strings.ToLower(name)
}
