package builds

import (
	"fmt"
	"log/slog"

	"corebase/control_plane/queue"
	"corebase/control_plane/schema"

	"github.com/google/uuid"
)

const TypeDeployment = "deployment"

// Request is the build job message enqueued for the build runners.
type Request struct {
	Type         string    `json:"type"`
	ProjectId    uuid.UUID `json:"project_id"`
	FunctionId   uuid.UUID `json:"function_id"`
	DeploymentId uuid.UUID `json:"deployment_id"`
	Branch       string    `json:"branch"`
	Entrypoint   string    `json:"entrypoint"`
	Activate     bool      `json:"activate"`
}

// Trigger enqueues a build for a deployment. The build itself runs elsewhere;
// triggering only records the request on the builds queue.
type Trigger interface {
	TriggerBuild(function schema.Function, deployment schema.Deployment, project schema.Project) error
}

type QueueTrigger struct {
	queue queue.Publisher
}

func NewQueueTrigger(q queue.Publisher) *QueueTrigger {
	return &QueueTrigger{queue: q}
}

func (t *QueueTrigger) TriggerBuild(function schema.Function, deployment schema.Deployment, project schema.Project) error {
	request := Request{
		Type:         TypeDeployment,
		ProjectId:    project.Id,
		FunctionId:   function.Id,
		DeploymentId: deployment.Id,
		Branch:       deployment.Branch,
		Entrypoint:   deployment.Entrypoint,
		Activate:     deployment.Activate,
	}

	if err := t.queue.Publish(request); err != nil {
		slog.Error("error enqueueing build", "deployment_id", deployment.Id, "function_id", function.Id, "error", err)
		return fmt.Errorf("error enqueueing build for deployment %v: %w", deployment.Id, err)
	}

	slog.Info("build enqueued", "deployment_id", deployment.Id, "function_id", function.Id, "project_id", project.Id, "branch", deployment.Branch)

	return nil
}
