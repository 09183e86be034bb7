package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/carwatch/pkg/natsutil"
)

// NATSPublisher publishes messages as JSON on a subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher publishes on subject, SubjectListings when empty.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = SubjectListings
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) Deliver(ctx context.Context, m Message) error {
	if err := natsutil.Publish(ctx, p.nc, p.subject, m); err != nil {
		return fmt.Errorf("notify: nats publish %s: %w", p.subject, err)
	}
	return nil
}
