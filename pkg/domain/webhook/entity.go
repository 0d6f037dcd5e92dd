// Package webhook contains webhook subscriptions, delivery records, and
// payload signing.
package webhook

import (
	"time"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
)

// Subscription registers an HTTP endpoint for a set of lifecycle events.
// One subscription per URL; the event set grows and shrinks in place.
type Subscription struct {
	ID   shared.ID
	Name string
	URL  string

	// Secret, when set, enables HMAC signing of every delivery.
	Secret string

	Events []scan.Event
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscription creates an active subscription for the given events.
// Unknown event names are rejected.
func NewSubscription(name, url, secret string, events []scan.Event) (*Subscription, error) {
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "subscription name is required", shared.ErrValidation)
	}
	if url == "" {
		return nil, shared.NewDomainError("VALIDATION", "subscription url is required", shared.ErrValidation)
	}
	if len(events) == 0 {
		return nil, shared.NewDomainError("VALIDATION", "at least one event is required", shared.ErrValidation)
	}
	for _, e := range events {
		if !e.IsValid() {
			return nil, shared.NewDomainError("VALIDATION", "unknown event: "+e.String(), shared.ErrValidation)
		}
	}

	now := time.Now()
	return &Subscription{
		ID:        shared.NewID(),
		Name:      name,
		URL:       url,
		Secret:    secret,
		Events:    dedupe(events),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SubscribedTo reports whether the subscription covers the event.
func (s *Subscription) SubscribedTo(event scan.Event) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// AddEvent adds an event to the subscription's set. Duplicates are ignored.
func (s *Subscription) AddEvent(event scan.Event) error {
	if !event.IsValid() {
		return shared.NewDomainError("VALIDATION", "unknown event: "+event.String(), shared.ErrValidation)
	}
	if s.SubscribedTo(event) {
		return nil
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return nil
}

// RemoveEvent removes an event from the subscription's set.
func (s *Subscription) RemoveEvent(event scan.Event) {
	kept := s.Events[:0]
	for _, e := range s.Events {
		if e != event {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(s.Events) {
		s.Events = kept
		s.UpdatedAt = time.Now()
	}
}

// HasEvents reports whether any events remain subscribed.
func (s *Subscription) HasEvents() bool {
	return len(s.Events) > 0
}

// Activate enables delivery for the subscription.
func (s *Subscription) Activate() {
	if !s.Active {
		s.Active = true
		s.UpdatedAt = time.Now()
	}
}

// Deactivate disables delivery without losing the event set.
func (s *Subscription) Deactivate() {
	if s.Active {
		s.Active = false
		s.UpdatedAt = time.Now()
	}
}

func dedupe(events []scan.Event) []scan.Event {
	seen := make(map[scan.Event]struct{}, len(events))
	out := make([]scan.Event, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
