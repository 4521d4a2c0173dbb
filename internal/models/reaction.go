package models

import (
	"fmt"
	"strings"
)

// ReactionKind is one of the supported reaction categories.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionHelpful ReactionKind = "helpful"
)

// ReactionKinds lists every supported kind in display order.
var ReactionKinds = []ReactionKind{ReactionLike, ReactionHelpful}

// ParseReactionKind validates a client supplied reaction kind.
func ParseReactionKind(raw string) (ReactionKind, error) {
	kind := ReactionKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ReactionKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unsupported reaction kind %q", raw)
}

// ReactionIntent is the direction of a reaction toggle.
type ReactionIntent int

const (
	ReactionEngage ReactionIntent = iota + 1
	ReactionWithdraw
)

func (i ReactionIntent) String() string {
	switch i {
	case ReactionEngage:
		return "engage"
	case ReactionWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// ParseReactionIntent accepts engage/withdraw and the legacy like/unlike verbs.
func ParseReactionIntent(raw string) (ReactionIntent, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "engage", "like":
		return ReactionEngage, nil
	case "withdraw", "unlike":
		return ReactionWithdraw, nil
	default:
		return 0, fmt.Errorf("unsupported reaction intent %q", raw)
	}
}

// ReactionState is the aggregate for one reaction kind on one message.
// After normalisation Count always equals len(Reactors).
type ReactionState struct {
	Kind     ReactionKind
	Count    int
	Reactors []string
}

// Has reports whether userID currently expresses the reaction.
func (s ReactionState) Has(userID string) bool {
	for _, reactor := range s.Reactors {
		if reactor == userID {
			return true
		}
	}
	return false
}

// Normalize drops duplicate and empty reactors and realigns Count with the set.
func (s ReactionState) Normalize() ReactionState {
	seen := make(map[string]struct{}, len(s.Reactors))
	reactors := make([]string, 0, len(s.Reactors))
	for _, reactor := range s.Reactors {
		if reactor == "" {
			continue
		}
		if _, dup := seen[reactor]; dup {
			continue
		}
		seen[reactor] = struct{}{}
		reactors = append(reactors, reactor)
	}
	return ReactionState{Kind: s.Kind, Count: len(reactors), Reactors: reactors}
}

// Apply returns the state after userID expresses intent and whether it differs
// from the stored state. Engaging twice or withdrawing an absent reaction is a
// no-op; a stored count that drifted from the reactor set counts as a change so
// the next write repairs it.
func (s ReactionState) Apply(userID string, intent ReactionIntent) (ReactionState, bool) {
	next := s.Normalize()
	drifted := s.Count != next.Count || len(s.Reactors) != len(next.Reactors)

	switch intent {
	case ReactionEngage:
		if next.Has(userID) {
			return next, drifted
		}
		next.Reactors = append(next.Reactors, userID)
	case ReactionWithdraw:
		if !next.Has(userID) {
			return next, drifted
		}
		kept := make([]string, 0, len(next.Reactors))
		for _, reactor := range next.Reactors {
			if reactor != userID {
				kept = append(kept, reactor)
			}
		}
		next.Reactors = kept
	default:
		return next, drifted
	}

	next.Count = len(next.Reactors)
	return next, true
}
