package out

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"pocus/internal/modules/workspace/domain"
	workspaceout "pocus/internal/modules/workspace/port/out"
)

// LogActivityPublisher writes activity to the structured log. It is the default
// when no broker is configured.
type LogActivityPublisher struct {
	logger hclog.Logger
}

func NewLogActivityPublisher(logger hclog.Logger) workspaceout.ActivityPublisher {
	return &LogActivityPublisher{logger: logger.Named("activity")}
}

func (p *LogActivityPublisher) Publish(_ context.Context, activity domain.Activity) error {
	args := []any{
		"kind", activity.Kind,
		"study_id", activity.StudyID,
		"institution_id", activity.InstitutionID,
		"actor_id", activity.ActorID,
		"at", activity.At,
	}
	if activity.TaskID != nil {
		args = append(args, "task_id", *activity.TaskID)
	}
	if activity.Detail != "" {
		args = append(args, "detail", activity.Detail)
	}
	p.logger.Info("activity", args...)
	return nil
}

func (p *LogActivityPublisher) Close() error { return nil }
