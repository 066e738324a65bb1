package agreement

import "time"

// Record is the persisted handshake of one conversation. Revision increases
// by one on every successful write and is the compare-and-swap token.
type Record struct {
	ConversationID string
	Handshake
	Revision  int64
	UpdatedAt time.Time
}

// Event captures an immutable audit entry for a handshake transition.
type Event struct {
	ID             int64
	ConversationID string
	Type           string
	ActorID        string
	Revision       int64
	Payload        []byte
	CreatedAt      time.Time
}

// PendingEvent is an audit entry written together with a handshake update.
type PendingEvent struct {
	Type    string
	ActorID string
	Payload map[string]any
}

const (
	EventJobAccepted   = "JOB_ACCEPTED"
	EventJobInProgress = "JOB_IN_PROGRESS"
	EventJobFinished   = "JOB_FINISHED"
	EventJobCompleted  = "JOB_COMPLETED"
)

// transitionEvents lists the audit entries for prev -> next. Reaching both
// accepted or both finished adds a milestone event after the actor's own.
func transitionEvents(prev, next Handshake, actor string, action Action) []PendingEvent {
	payload := map[string]any{
		"action":      string(action),
		"phase":       string(next.Phase()),
		"accepted_by": next.AcceptedBy,
		"finished_by": next.FinishedBy,
	}

	var events []PendingEvent
	switch action {
	case ActionAccept:
		events = append(events, PendingEvent{Type: EventJobAccepted, ActorID: actor, Payload: payload})
		if !prev.BothAccepted() && next.BothAccepted() {
			events = append(events, PendingEvent{Type: EventJobInProgress, ActorID: actor, Payload: payload})
		}
	case ActionFinish:
		events = append(events, PendingEvent{Type: EventJobFinished, ActorID: actor, Payload: payload})
		if !prev.Completed() && next.Completed() {
			events = append(events, PendingEvent{Type: EventJobCompleted, ActorID: actor, Payload: payload})
		}
	}
	return events
}
