// Package notify fans job and printer events out to in-app, email, SMS and
// webhook channels without ever blocking or failing the caller.
package notify

import (
	"context"

	"github.com/orrn/printdesk/internal/core"
)

// Channel delivers a notification over one medium. A channel that does not
// apply to a notification (no contact on file, staff-only event) returns nil.
type Channel interface {
	Name() string
	Send(ctx context.Context, n core.Notification) error
}

// Capability records whether a channel is configured. Availability is decided
// once at construction, never probed at send time.
type Capability struct {
	name    string
	channel Channel
	reason  string
}

func Available(ch Channel) Capability {
	return Capability{name: ch.Name(), channel: ch}
}

func Unavailable(name, reason string) Capability {
	return Capability{name: name, reason: reason}
}

func (c Capability) Name() string {
	return c.name
}

func (c Capability) Available() bool {
	return c.channel != nil
}

func (c Capability) Reason() string {
	return c.reason
}

func (c Capability) Channel() (Channel, bool) {
	return c.channel, c.channel != nil
}
