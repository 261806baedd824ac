// Package synchronization maintains versioned broadcast state: the latest
// value of each synchronized object plus per-participant subscriptions,
// delivering full values on first contact and structural diffs afterwards.
package synchronization

import (
	"strings"

	"conference-lab/errors"
)

// ObjectID identifies one independently versioned piece of broadcast
// state: an object kind plus an optional scope (a room id, a participant
// id). The stable textual form is "kind" or "kind/scope".
type ObjectID struct {
	Kind  string
	Scope string
}

func NewObjectID(kind string) ObjectID {
	return ObjectID{Kind: kind}
}

func NewScopedObjectID(kind, scope string) ObjectID {
	return ObjectID{Kind: kind, Scope: scope}
}

func (id ObjectID) String() string {
	if id.Scope == "" {
		return id.Kind
	}
	return id.Kind + "/" + id.Scope
}

// ParseObjectID parses the stable textual form.
func ParseObjectID(s string) (ObjectID, error) {
	kind, scope, _ := strings.Cut(s, "/")
	if kind == "" {
		return ObjectID{}, errors.NewValidation("objectId", "empty object kind in %q", s)
	}
	return ObjectID{Kind: kind, Scope: scope}, nil
}
