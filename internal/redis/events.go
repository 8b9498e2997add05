package redis

import (
	"context"

	"lead-router/internal/routing"
)

// AssignmentChannel is the pub/sub channel carrying assignment events.
// Dashboards and audit consumers subscribe here.
const AssignmentChannel = "assignments"

// AssignmentPublisher announces recorded assignments over Redis pub/sub.
type AssignmentPublisher struct {
	client *Client
}

func NewAssignmentPublisher(client *Client) *AssignmentPublisher {
	return &AssignmentPublisher{client: client}
}

func (p *AssignmentPublisher) PublishAssignment(ctx context.Context, a *routing.Assignment) error {
	return p.client.Publish(ctx, AssignmentChannel, a)
}

var _ routing.EventPublisher = (*AssignmentPublisher)(nil)
