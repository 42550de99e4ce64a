package out

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pocus/internal/modules/upload/domain"
	uploadout "pocus/internal/modules/upload/port/out"

	_ "modernc.org/sqlite"
)

type SQLiteTaskJournal struct {
	db *sqlx.DB
}

func NewSQLiteTaskJournal(dbPath string) (uploadout.TaskJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps concurrent workers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	journal := &SQLiteTaskJournal{db: db}
	if err := journal.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *SQLiteTaskJournal) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS upload_tasks (
  id TEXT PRIMARY KEY,
  study_id TEXT NOT NULL,
  institution_id TEXT NOT NULL,
  bucket TEXT NOT NULL,
  object_name TEXT NOT NULL,
  content_type TEXT NOT NULL,
  source_path TEXT NOT NULL,
  size INTEGER NOT NULL,
  upload_offset INTEGER NOT NULL,
  upload_url TEXT NOT NULL,
  cache_control TEXT NOT NULL,
  metadata TEXT NOT NULL,
  upsert INTEGER NOT NULL,
  token TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create upload_tasks table: %w", err)
	}
	return nil
}

type taskRow struct {
	ID            string `db:"id"`
	StudyID       string `db:"study_id"`
	InstitutionID string `db:"institution_id"`
	Bucket        string `db:"bucket"`
	ObjectName    string `db:"object_name"`
	ContentType   string `db:"content_type"`
	SourcePath    string `db:"source_path"`
	Size          int64  `db:"size"`
	Offset        int64  `db:"upload_offset"`
	UploadURL     string `db:"upload_url"`
	CacheControl  string `db:"cache_control"`
	Metadata      string `db:"metadata"`
	Upsert        bool   `db:"upsert"`
	Token         string `db:"token"`
	Status        string `db:"status"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func toRow(task domain.Task) (taskRow, error) {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return taskRow{}, fmt.Errorf("encode metadata: %w", err)
	}
	return taskRow{
		ID:            task.ID.String(),
		StudyID:       task.StudyID.String(),
		InstitutionID: task.InstitutionID.String(),
		Bucket:        task.Bucket,
		ObjectName:    task.ObjectName,
		ContentType:   task.ContentType,
		SourcePath:    task.SourcePath,
		Size:          task.Size,
		Offset:        task.Offset,
		UploadURL:     task.UploadURL,
		CacheControl:  task.CacheControl,
		Metadata:      string(metadata),
		Upsert:        task.Upsert,
		Token:         task.Token,
		Status:        string(task.Status),
		CreatedAt:     task.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (r taskRow) task() (domain.Task, error) {
	task := domain.Task{
		Bucket:       r.Bucket,
		ObjectName:   r.ObjectName,
		ContentType:  r.ContentType,
		SourcePath:   r.SourcePath,
		Size:         r.Size,
		Offset:       r.Offset,
		UploadURL:    r.UploadURL,
		CacheControl: r.CacheControl,
		Upsert:       r.Upsert,
		Token:        r.Token,
		Status:       domain.Status(r.Status),
	}
	var err error
	if task.ID, err = uuid.Parse(r.ID); err != nil {
		return domain.Task{}, fmt.Errorf("task id %q: %w", r.ID, err)
	}
	if task.StudyID, err = uuid.Parse(r.StudyID); err != nil {
		return domain.Task{}, fmt.Errorf("study id %q: %w", r.StudyID, err)
	}
	if task.InstitutionID, err = uuid.Parse(r.InstitutionID); err != nil {
		return domain.Task{}, fmt.Errorf("institution id %q: %w", r.InstitutionID, err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &task.Metadata); err != nil {
		return domain.Task{}, fmt.Errorf("decode metadata: %w", err)
	}
	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
		return domain.Task{}, fmt.Errorf("created_at %q: %w", r.CreatedAt, err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, r.UpdatedAt); err != nil {
		return domain.Task{}, fmt.Errorf("updated_at %q: %w", r.UpdatedAt, err)
	}
	return task, nil
}

func (j *SQLiteTaskJournal) Save(ctx context.Context, task domain.Task) error {
	row, err := toRow(task)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO upload_tasks (id, study_id, institution_id, bucket, object_name, content_type, source_path, size, upload_offset, upload_url, cache_control, metadata, upsert, token, status, created_at, updated_at)
VALUES (:id, :study_id, :institution_id, :bucket, :object_name, :content_type, :source_path, :size, :upload_offset, :upload_url, :cache_control, :metadata, :upsert, :token, :status, :created_at, :updated_at)
ON CONFLICT(id) DO UPDATE SET
  upload_offset=excluded.upload_offset,
  upload_url=excluded.upload_url,
  token=excluded.token,
  status=excluded.status,
  updated_at=excluded.updated_at;
`
	if _, err := j.db.NamedExecContext(ctx, stmt, row); err != nil {
		return fmt.Errorf("save upload task %s: %w", task.ID, err)
	}
	return nil
}

func (j *SQLiteTaskJournal) Delete(ctx context.Context, taskID uuid.UUID) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id = ?`, taskID.String()); err != nil {
		return fmt.Errorf("delete upload task %s: %w", taskID, err)
	}
	return nil
}

func (j *SQLiteTaskJournal) Pending(ctx context.Context) ([]domain.Task, error) {
	rows := []taskRow{}
	if err := j.db.SelectContext(ctx, &rows, `SELECT * FROM upload_tasks ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list upload tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		task, err := row.task()
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (j *SQLiteTaskJournal) Close() error {
	return j.db.Close()
}
