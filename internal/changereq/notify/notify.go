// Package notify pushes change-request lifecycle events to approver-facing
// listeners over Redis pub/sub. Delivery is best-effort: a dropped event only
// delays a UI refresh, never a decision.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"peopleops/internal/changereq/models"
	"peopleops/internal/platform/redis"
)

// Channel is the pub/sub channel lifecycle events are published to.
const Channel = "peopleops.change_requests"

// Event is the published message shape.
type Event struct {
	Kind            string    `json:"kind"` // "created" or "decided"
	ChangeRequestID string    `json:"changeRequestId"`
	Module          string    `json:"module"`
	ModelName       string    `json:"modelName"`
	Action          string    `json:"action"`
	Status          string    `json:"status"`
	RequestedBy     string    `json:"requestedBy"`
	At              time.Time `json:"at"`
}

// RedisNotifier publishes Events to Redis. A nil client disables publishing.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) RequestCreated(ctx context.Context, cr *models.ChangeRequest) {
	n.publish(ctx, Event{
		Kind:            "created",
		ChangeRequestID: cr.ID.String(),
		Module:          string(cr.Module),
		ModelName:       cr.ModelName,
		Action:          string(cr.Action),
		Status:          string(cr.Status),
		RequestedBy:     cr.RequestedBy,
		At:              time.Now().UTC(),
	})
}

func (n *RedisNotifier) RequestDecided(ctx context.Context, cr *models.ChangeRequest, outcome models.Status) {
	n.publish(ctx, Event{
		Kind:            "decided",
		ChangeRequestID: cr.ID.String(),
		Module:          string(cr.Module),
		ModelName:       cr.ModelName,
		Action:          string(cr.Action),
		Status:          string(outcome),
		RequestedBy:     cr.RequestedBy,
		At:              time.Now().UTC(),
	})
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) {
	if n == nil || n.client == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.WarnContext(ctx, "failed to encode notification", "error", err)
		return
	}
	if err := n.client.Publish(ctx, Channel, body).Err(); err != nil {
		n.logger.WarnContext(ctx, "failed to publish notification",
			"channel", Channel,
			"change_request_id", ev.ChangeRequestID,
			"error", err,
		)
	}
}
