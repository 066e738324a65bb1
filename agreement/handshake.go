package agreement

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotParticipant is returned when the actor is not one of the two
	// conversation participants.
	ErrNotParticipant = errors.New("agreement: actor is not a participant")
	// ErrAcceptancePending rejects finishing before both participants accepted.
	ErrAcceptancePending = errors.New("agreement: job not accepted by both participants")
	// ErrUnknownAction is returned for an action outside Accept and Finish.
	ErrUnknownAction = errors.New("agreement: unknown action")
	// ErrInvalidParticipants guards against malformed participant pairs.
	ErrInvalidParticipants = errors.New("agreement: participants must be two distinct actors")
)

// NormalizeActor canonicalises an actor id. Actor ids are account emails and
// compare case-insensitively, so every service keys on this form.
func NormalizeActor(actor string) string {
	return strings.ToLower(strings.TrimSpace(actor))
}

// Action is a handshake signal sent by one participant.
type Action string

const (
	ActionAccept Action = "accept"
	ActionFinish Action = "finish"
)

// Phase is derived from the two flag sets and only ever moves forward.
type Phase string

const (
	PhaseEmpty             Phase = "empty"
	PhasePartiallyAccepted Phase = "partially_accepted"
	PhaseBothAccepted      Phase = "both_accepted"
	PhasePartiallyFinished Phase = "partially_finished"
	PhaseBothFinished      Phase = "both_finished"
)

// Handshake is the two-party accept/finish state of one conversation.
// AcceptedBy and FinishedBy are grow-only sets kept in participant order.
type Handshake struct {
	Participants [2]string
	AcceptedBy   []string
	FinishedBy   []string
}

// NewHandshake validates the pair and returns an empty handshake.
func NewHandshake(a, b string) (Handshake, error) {
	if a == "" || b == "" || a == b {
		return Handshake{}, ErrInvalidParticipants
	}
	return Handshake{Participants: [2]string{a, b}}, nil
}

func (h Handshake) IsParticipant(actor string) bool {
	return actor != "" && (h.Participants[0] == actor || h.Participants[1] == actor)
}

// Other returns the counterpart of actor, or "" when actor is not a participant.
func (h Handshake) Other(actor string) string {
	switch actor {
	case "":
		return ""
	case h.Participants[0]:
		return h.Participants[1]
	case h.Participants[1]:
		return h.Participants[0]
	}
	return ""
}

func (h Handshake) HasAccepted(actor string) bool {
	return slices.Contains(h.AcceptedBy, actor)
}

func (h Handshake) HasFinished(actor string) bool {
	return slices.Contains(h.FinishedBy, actor)
}

// BothAccepted holds exactly when both participants are in AcceptedBy.
func (h Handshake) BothAccepted() bool {
	return h.HasAccepted(h.Participants[0]) && h.HasAccepted(h.Participants[1])
}

// Completed holds exactly when both participants are in FinishedBy.
func (h Handshake) Completed() bool {
	return h.HasFinished(h.Participants[0]) && h.HasFinished(h.Participants[1])
}

func (h Handshake) Phase() Phase {
	switch {
	case h.Completed():
		return PhaseBothFinished
	case len(h.FinishedBy) > 0:
		return PhasePartiallyFinished
	case h.BothAccepted():
		return PhaseBothAccepted
	case len(h.AcceptedBy) > 0:
		return PhasePartiallyAccepted
	}
	return PhaseEmpty
}

// Apply computes the handshake after actor performs action. The receiver is
// never modified. changed is false when the action was already recorded,
// which callers treat as a successful no-op.
func (h Handshake) Apply(actor string, action Action) (next Handshake, changed bool, err error) {
	if !h.IsParticipant(actor) {
		return h, false, ErrNotParticipant
	}

	switch action {
	case ActionAccept:
		if h.HasAccepted(actor) {
			return h, false, nil
		}
		next = h.clone()
		next.AcceptedBy = h.ordered(append(next.AcceptedBy, actor))
		return next, true, nil
	case ActionFinish:
		if h.HasFinished(actor) {
			return h, false, nil
		}
		if !h.BothAccepted() {
			return h, false, ErrAcceptancePending
		}
		next = h.clone()
		next.FinishedBy = h.ordered(append(next.FinishedBy, actor))
		return next, true, nil
	}
	return h, false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Validate checks a handshake loaded from storage. Rows that fail are
// reported and skipped by readers instead of being trusted.
func (h Handshake) Validate() error {
	if h.Participants[0] == "" || h.Participants[1] == "" || h.Participants[0] == h.Participants[1] {
		return ErrInvalidParticipants
	}
	for _, set := range [][]string{h.AcceptedBy, h.FinishedBy} {
		if len(set) > 2 {
			return fmt.Errorf("agreement: flag set has %d entries", len(set))
		}
		for i, actor := range set {
			if !h.IsParticipant(actor) {
				return fmt.Errorf("agreement: flag set holds non-participant %q", actor)
			}
			if slices.Contains(set[:i], actor) {
				return fmt.Errorf("agreement: flag set repeats %q", actor)
			}
		}
	}
	return nil
}

func (h Handshake) clone() Handshake {
	return Handshake{
		Participants: h.Participants,
		AcceptedBy:   slices.Clone(h.AcceptedBy),
		FinishedBy:   slices.Clone(h.FinishedBy),
	}
}

// ordered sorts a flag set into participant order so that equal sets compare
// equal regardless of arrival order.
func (h Handshake) ordered(set []string) []string {
	out := make([]string, 0, len(set))
	for _, p := range h.Participants {
		if slices.Contains(set, p) {
			out = append(out, p)
		}
	}
	return out
}
