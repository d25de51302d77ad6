package jobs

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/reconciler/internal/jobs"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecurringPostAll posts the current period of every active definition.
	TaskRecurringPostAll = "recurring:post_all"
	// TaskRecurringPost posts the current period of one definition.
	TaskRecurringPost = "recurring:post"
	// TaskRolesDedupe runs the duplicate role pass.
	TaskRolesDedupe = "roles:dedupe"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ModePayload carries the run mode of a bulk pass. An empty mode means the
// handler's default.
type ModePayload struct {
	Mode shared.RunMode `json:"mode,omitempty"`
}

// RecurringPostPayload identifies the definition to post.
type RecurringPostPayload struct {
	DefinitionID string `json:"definition_id"`
}

// NewRecurringPostAllTask constructs the batch posting task.
func NewRecurringPostAllTask(mode shared.RunMode) (*asynq.Task, error) {
	return newTask(TaskRecurringPostAll, ModePayload{Mode: mode})
}

// NewRecurringPostTask constructs the single definition posting task.
func NewRecurringPostTask(definitionID string) (*asynq.Task, error) {
	if definitionID == "" {
		return nil, fmt.Errorf("jobs: definition id is required: %w", shared.ErrInvalidInput)
	}
	return newTask(TaskRecurringPost, RecurringPostPayload{DefinitionID: definitionID})
}

// NewRolesDedupeTask constructs the duplicate role task.
func NewRolesDedupeTask(mode shared.RunMode) (*asynq.Task, error) {
	return newTask(TaskRolesDedupe, ModePayload{Mode: mode})
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, data), nil
}

func decodeMode(t *asynq.Task, fallback shared.RunMode) (shared.RunMode, error) {
	var payload ModePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return "", err
		}
	}
	if payload.Mode == "" {
		return fallback, nil
	}
	return shared.ParseRunMode(string(payload.Mode))
}
