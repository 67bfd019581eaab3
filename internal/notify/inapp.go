package notify

import (
	"context"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

// StaffInbox is the owner id under which staff notifications are stored.
const StaffInbox = "staff"

type InAppChannel struct {
	ops *db.NotificationOperations
}

func NewInAppChannel(ops *db.NotificationOperations) *InAppChannel {
	return &InAppChannel{ops: ops}
}

func (c *InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Send(ctx context.Context, n core.Notification) error {
	owner := n.OwnerID
	if n.Staff {
		owner = StaffInbox
	}
	if owner == "" {
		return nil
	}
	return c.ops.CreateNotification(ctx, &db.Notification{
		OwnerID:   owner,
		JobID:     n.JobID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.Timestamp,
	})
}
