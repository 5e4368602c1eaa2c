package models

// MediaType classifies an attachment kind. The core never inspects
// media bytes; it only carries handles returned by the object store.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Limits enforced on inbound sends.
const (
	MaxContentLen      = 5000
	MaxMediaPerMessage = 4
)

// MediaRef is an opaque handle into the external object store.
type MediaRef struct {
	Type      MediaType `json:"type"`
	StorageID string    `json:"storage_id"`
	URL       string    `json:"url"`
}

// Message is one persisted chat message. Exactly one of Receiver/Group
// is set. Content or Media must be non-empty. IsRead flips once,
// false→true. Deletion is per-party: DeletedBy accumulates refs and the
// row stays until the retention runner purges fully-deleted rows.
type Message struct {
	ID        string     `json:"id"`
	Sender    ActorRef   `json:"sender"`
	Receiver  *ActorRef  `json:"receiver,omitempty"`
	Group     string     `json:"group,omitempty"`
	Content   string     `json:"content,omitempty"`
	Media     []MediaRef `json:"media,omitempty"`
	CreatedTS int64      `json:"created_ts"`

	IsRead    bool       `json:"is_read"`
	DeletedBy []ActorRef `json:"deleted_by,omitempty"`
}

// ConversationID returns the conversation the message belongs to: the
// explicit group id, or the implicit direct-pair id.
func (m *Message) ConversationID() string {
	if m.Group != "" {
		return m.Group
	}
	if m.Receiver == nil {
		return ""
	}
	return DirectConversationID(m.Sender, *m.Receiver)
}

// DeletedFor reports whether the given actor soft-deleted the message.
func (m *Message) DeletedFor(a ActorRef) bool {
	for _, d := range m.DeletedBy {
		if d.Equal(a) {
			return true
		}
	}
	return false
}

// IsParty reports whether the actor is the sender or the direct receiver.
func (m *Message) IsParty(a ActorRef) bool {
	if m.Sender.Equal(a) {
		return true
	}
	return m.Receiver != nil && m.Receiver.Equal(a)
}

// OtherParty returns the direct-message counterpart of the given actor.
// Only meaningful when Receiver is set.
func (m *Message) OtherParty(a ActorRef) ActorRef {
	if m.Receiver != nil && m.Sender.Equal(a) {
		return *m.Receiver
	}
	return m.Sender
}
