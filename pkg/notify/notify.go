// Package notify delivers evaluated listings to operator-facing sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// SubjectListings is the NATS subject new listings are published on.
const SubjectListings = "carwatch.listings"

// Kind tells listing notifications from plain operator notices.
type Kind string

const (
	KindListing Kind = "listing"
	KindNotice  Kind = "notice"
)

// Message is one delivery. Listing messages carry the listing and its
// score; notices carry only Text.
type Message struct {
	ID      string             `json:"id"`
	Kind    Kind               `json:"kind"`
	Listing domain.Listing     `json:"listing,omitzero"`
	Score   domain.ScoreResult `json:"score,omitzero"`
	Text    string             `json:"text,omitempty"`
	Silent  bool               `json:"silent"`
	SentAt  time.Time          `json:"sent_at"`
}

// NewMessage builds a listing message. Low priority listings are silent.
func NewMessage(l domain.Listing, sr domain.ScoreResult) Message {
	return Message{
		ID:      uuid.NewString(),
		Kind:    KindListing,
		Listing: l,
		Score:   sr,
		Silent:  sr.Priority == domain.PriorityLow,
		SentAt:  time.Now().UTC(),
	}
}

// Notice builds a plain text message.
func Notice(text string, silent bool) Message {
	return Message{
		ID:     uuid.NewString(),
		Kind:   KindNotice,
		Text:   text,
		Silent: silent,
		SentAt: time.Now().UTC(),
	}
}

// Subject is a one-line summary used as an email subject.
func (m Message) Subject() string {
	if m.Kind == KindNotice {
		return "carwatch: notice"
	}
	return fmt.Sprintf("carwatch [%s] %d: %s", m.Score.Priority, m.Score.TotalScore, m.Listing.Title)
}

// Notifier delivers a message to one destination.
type Notifier interface {
	Deliver(ctx context.Context, m Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m Message) error

func (f NotifierFunc) Deliver(ctx context.Context, m Message) error { return f(ctx, m) }

// ErrNoSink is returned by an empty Multi.
var ErrNoSink = errors.New("notify: no sink configured")

// Multi fans a message out to every sink. Delivery succeeds when at least
// one sink accepted it; sink errors are logged.
type Multi struct {
	sinks []Notifier
	log   *slog.Logger
}

func NewMulti(log *slog.Logger, sinks ...Notifier) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{sinks: sinks, log: log}
}

// Add registers another sink.
func (m *Multi) Add(n Notifier) { m.sinks = append(m.sinks, n) }

func (m *Multi) Deliver(ctx context.Context, msg Message) error {
	if len(m.sinks) == 0 {
		return ErrNoSink
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, msg); err != nil {
			m.log.Warn("notify: sink failed", "message_id", msg.ID, "sink", fmt.Sprintf("%T", s), "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.sinks) {
		return fmt.Errorf("notify: all sinks failed: %w", errors.Join(errs...))
	}
	return nil
}

// LogSink writes messages to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, m Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	if m.Kind == KindNotice {
		log.InfoContext(ctx, "notify: notice", "message_id", m.ID, "text", m.Text)
		return nil
	}
	log.InfoContext(ctx, "notify: listing",
		"message_id", m.ID,
		"listing_id", m.Listing.ID,
		"title", m.Listing.Title,
		"score", m.Score.TotalScore,
		"priority", m.Score.Priority,
		"url", m.Listing.URL,
	)
	return nil
}
