package models

import (
	"fmt"
	"strings"
)

// Kind identifies which side of the marketplace an actor belongs to.
type Kind string

const (
	KindUser       Kind = "user"
	KindShop       Kind = "shop"
	KindInstructor Kind = "instructor"
)

// ParseKind validates a kind string coming off the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindUser:
		return KindUser, nil
	case KindShop:
		return KindShop, nil
	case KindInstructor:
		return KindInstructor, nil
	}
	return "", fmt.Errorf("unknown actor kind: %q", s)
}

// ActorRef names one endpoint of a conversation. Identity is the
// (kind, id) pair; two different kinds may share an id space, so id
// alone is never used as a key.
type ActorRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Key returns the canonical storage/registry key for the actor.
func (a ActorRef) Key() string { return string(a.Kind) + ":" + a.ID }

func (a ActorRef) String() string { return a.Key() }

// Equal compares by (kind, id).
func (a ActorRef) Equal(b ActorRef) bool { return a.Kind == b.Kind && a.ID == b.ID }

// IsZero reports whether the ref is unset.
func (a ActorRef) IsZero() bool { return a.Kind == "" && a.ID == "" }

// Valid reports whether the ref carries a known kind and a usable id.
// Ids may not contain ':', which is reserved as the key and credential
// delimiter.
func (a ActorRef) Valid() bool {
	if a.ID == "" || strings.ContainsRune(a.ID, ':') {
		return false
	}
	_, err := ParseKind(string(a.Kind))
	return err == nil
}

// ParseActorKey parses the canonical "kind:id" form back into a ref.
func ParseActorKey(s string) (ActorRef, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ActorRef{}, fmt.Errorf("malformed actor key: %q", s)
	}
	k, err := ParseKind(s[:i])
	if err != nil {
		return ActorRef{}, err
	}
	return ActorRef{Kind: k, ID: s[i+1:]}, nil
}

// Actor is the minimal profile row synced from the marketplace backend.
// Presence of a row is what makes a (kind, id) a deliverable recipient.
type Actor struct {
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Ref returns the actor's reference.
func (a Actor) Ref() ActorRef { return ActorRef{Kind: a.Kind, ID: a.ID} }
