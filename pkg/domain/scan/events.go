package scan

import "github.com/reconpoint/api/pkg/domain/shared"

// Event is a lifecycle event name delivered to webhook subscribers.
// The set is closed: new events are added here, never dispatched by
// free-form string.
type Event string

const (
	EventScanStarted         Event = "scan.started"
	EventScanCompleted       Event = "scan.completed"
	EventScanFailed          Event = "scan.failed"
	EventScanAborted         Event = "scan.aborted"
	EventSubdomainDiscovered Event = "subdomain.discovered"
	EventVulnerabilityFound  Event = "vulnerability.found"
	EventTargetAdded         Event = "target.added"
	EventWebhookTest         Event = "webhook.test"
)

// AllEvents returns every subscribable event.
func AllEvents() []Event {
	return []Event{
		EventScanStarted,
		EventScanCompleted,
		EventScanFailed,
		EventScanAborted,
		EventSubdomainDiscovered,
		EventVulnerabilityFound,
		EventTargetAdded,
		EventWebhookTest,
	}
}

// IsValid checks if the event is a known event name.
func (e Event) IsValid() bool {
	switch e {
	case EventScanStarted, EventScanCompleted, EventScanFailed, EventScanAborted,
		EventSubdomainDiscovered, EventVulnerabilityFound, EventTargetAdded, EventWebhookTest:
		return true
	}
	return false
}

// String returns the string representation of the event.
func (e Event) String() string {
	return string(e)
}

// StartedPayload builds the scan.started event payload.
func StartedPayload(s *Scan, targetName string) map[string]any {
	return map[string]any{
		"scan_id": s.ID.String(),
		"target":  targetName,
		"engine":  s.EngineName,
	}
}

// CompletedPayload builds the scan.completed event payload.
func CompletedPayload(s *Scan, targetName string, progress Progress) map[string]any {
	payload := map[string]any{
		"scan_id": s.ID.String(),
		"target":  targetName,
		"results": map[string]any{
			"total_tasks":     progress.TotalTasks,
			"completed_tasks": progress.CompletedTasks,
		},
	}
	if d := s.Duration(); d != nil {
		payload["duration"] = d.Seconds()
	}
	return payload
}

// FailedPayload builds the scan.failed event payload.
func FailedPayload(s *Scan, targetName string) map[string]any {
	return map[string]any{
		"scan_id": s.ID.String(),
		"target":  targetName,
		"error":   s.ErrorMessage,
	}
}

// AbortedPayload builds the scan.aborted event payload.
func AbortedPayload(s *Scan, targetName string, actor shared.ID) map[string]any {
	return map[string]any{
		"scan_id":    s.ID.String(),
		"target":     targetName,
		"aborted_by": actor.String(),
	}
}

// TerminalEvent maps a terminal status to its lifecycle event.
func TerminalEvent(status Status) (Event, bool) {
	switch status {
	case StatusCompleted:
		return EventScanCompleted, true
	case StatusFailed:
		return EventScanFailed, true
	case StatusAborted:
		return EventScanAborted, true
	}
	return "", false
}
