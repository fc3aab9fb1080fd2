package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	appErr "github.com/vmfleet/engine/pkg/errors"
)

// Task types handled by the worker.
const (
	TypeProvision = "vm:provision"
	TypeStop      = "vm:stop"
	TypeTerminate = "vm:terminate"
)

// LifecyclePayload is the payload for every lifecycle task.
type LifecyclePayload struct {
	VMID string `json:"vm_id"`
}

// Enqueuer submits lifecycle tasks. Implemented by Client; faked in tests.
type Enqueuer interface {
	EnqueueLifecycle(ctx context.Context, taskType string, vmID uuid.UUID) error
}

// Client wraps the asynq producer.
type Client struct {
	c *asynq.Client
}

var _ Enqueuer = (*Client)(nil)

func NewClient(redisAddr, redisPassword string) *Client {
	return &Client{c: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword})}
}

func (q *Client) EnqueueLifecycle(ctx context.Context, taskType string, vmID uuid.UUID) error {
	pb, err := json.Marshal(LifecyclePayload{VMID: vmID.String()})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal task payload failed")
	}
	if _, err := q.c.EnqueueContext(ctx, asynq.NewTask(taskType, pb)); err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue task failed")
	}
	return nil
}

func (q *Client) Close() error {
	return q.c.Close()
}
