package protocol

import (
	"encoding/json"
	"fmt"

	"chatrelay/pkg/models"
)

// EventType names one protocol event. Inbound types are what clients
// may send; outbound types are what the engine emits.
type EventType string

// Inbound events.
const (
	EvSend      EventType = "send"
	EvMarkRead  EventType = "markRead"
	EvDelete    EventType = "delete"
	EvArchive   EventType = "archive"
	EvUnarchive EventType = "unarchive"
	EvBlock     EventType = "block"
	EvUnblock   EventType = "unblock"
)

// Outbound events.
const (
	EvNewMessage     EventType = "newMessage"
	EvMessageSent    EventType = "messageSent"
	EvMessageRead    EventType = "messageRead"
	EvMessageDeleted EventType = "messageDeleted"
	EvConvArchived   EventType = "conversationArchived"
	EvConvUnarchived EventType = "conversationUnarchived"
	EvError          EventType = "error"
)

// BlockedByEvent returns the kind-specific outbound type delivered to
// a freshly blocked actor ("blockedByUser", "blockedByShop", ...).
func BlockedByEvent(k models.Kind, blocked bool) EventType {
	var suffix string
	switch k {
	case models.KindShop:
		suffix = "Shop"
	case models.KindInstructor:
		suffix = "Instructor"
	default:
		suffix = "User"
	}
	if blocked {
		return EventType("blockedBy" + suffix)
	}
	return EventType("unblockedBy" + suffix)
}

// Envelope is the wire frame for both directions. Ref is an optional
// client-chosen correlation id echoed back on the matching ack or
// error event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MediaUpload is one inbound attachment: raw bytes destined for the
// external object store. JSON carries Data base64-encoded.
type MediaUpload struct {
	Type models.MediaType `json:"type"`
	Data []byte           `json:"data"`
}

// SendPayload is the body of an inbound `send` event. Exactly one of
// Receiver/Group must be set.
type SendPayload struct {
	Receiver *models.ActorRef `json:"receiver,omitempty"`
	Group    string           `json:"group,omitempty"`
	Content  string           `json:"content,omitempty"`
	Media    []MediaUpload    `json:"media,omitempty"`
}

// MessagePayload targets an existing message (markRead, delete).
type MessagePayload struct {
	MessageID string `json:"message_id"`
}

// ConversationPayload targets a conversation (archive, unarchive).
type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ActorPayload targets another actor (block, unblock) and doubles as
// the body of blockedBy*/unblockedBy* notices.
type ActorPayload struct {
	Actor models.ActorRef `json:"actor"`
}

// ReceiptPayload is the body of messageRead and messageDeleted notices:
// which message, and which actor acted on it.
type ReceiptPayload struct {
	MessageID string          `json:"message_id"`
	Actor     models.ActorRef `json:"actor"`
}

// ArchivePayload is the body of conversationArchived/Unarchived notices.
type ArchivePayload struct {
	ConversationID string          `json:"conversation_id"`
	Actor          models.ActorRef `json:"actor"`
}

// ErrorPayload is the body of an outbound `error` event.
type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Outbound builds an envelope with a marshaled payload. Payload shapes
// are all local structs or models, so marshal failures are programming
// errors; they are still surfaced rather than panicking.
func Outbound(t EventType, ref string, payload any) (Envelope, error) {
	env := Envelope{Type: t, Ref: ref}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = b
	}
	return env, nil
}

// ErrorEnvelope maps any error to an outbound `error` event using the
// taxonomy code and client-safe message.
func ErrorEnvelope(ref string, err error) Envelope {
	b, _ := json.Marshal(ErrorPayload{Code: CodeOf(err), Message: ClientMessage(err)})
	return Envelope{Type: EvError, Ref: ref, Payload: b}
}
