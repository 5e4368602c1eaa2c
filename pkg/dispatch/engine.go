// Package dispatch is the protocol state machine. It validates inbound
// events, consults the block store and the presence registry, persists
// via the message store, and fans events out to whichever parties are
// connected. Fan-out is attempted exactly once per event and is
// best-effort: the persisted row stays the source of truth, and an
// offline party recovers it by polling history after reconnect.
package dispatch

import (
	"context"
	"time"
	"unicode/utf8"

	"chatrelay/pkg/events"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/media"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

// Engine routes protocol events. One engine is shared by every
// connection; it holds no per-message state of its own. Calls arrive on
// the goroutine of the triggering connection, one event at a time per
// connection.
type Engine struct {
	registry *presence.Registry
	media    media.ObjectStore
	events   events.Publisher

	persist func(models.Message) error
}

// New builds an engine. pub may be nil to disable the AMQP mirror.
func New(reg *presence.Registry, obj media.ObjectStore, pub events.Publisher) *Engine {
	return &Engine{
		registry: reg,
		media:    obj,
		events:   pub,
		persist:  store.CreateMessage,
	}
}

// Send validates, persists and fans out one message. The returned
// message backs the sender's messageSent acknowledgment; the session
// emits that ack on its own connection so a reconnect race cannot
// misroute it.
func (e *Engine) Send(ctx context.Context, sender models.ActorRef, p protocol.SendPayload) (models.Message, error) {
	if err := validateSend(sender, p); err != nil {
		return models.Message{}, err
	}

	var recipients []models.ActorRef
	if p.Receiver != nil {
		recipient := *p.Receiver
		ok, err := store.ActorExists(recipient)
		if err != nil {
			return models.Message{}, err
		}
		if !ok {
			return models.Message{}, protocol.E(protocol.CodeNotFound, "recipient %s not found", recipient)
		}
		blocked, err := store.IsBlocked(sender, recipient)
		if err != nil {
			return models.Message{}, err
		}
		if blocked {
			return models.Message{}, protocol.E(protocol.CodeBlocked, "delivery between %s and %s is blocked", sender, recipient)
		}
		if _, err := store.EnsureDirectConversation(sender, recipient); err != nil {
			return models.Message{}, err
		}
		recipients = []models.ActorRef{recipient}
	} else {
		c, err := store.GetConversation(p.Group)
		if err != nil {
			return models.Message{}, err
		}
		if !c.HasMember(sender) {
			return models.Message{}, protocol.E(protocol.CodeUnauthorized, "%s is not a member of %s", sender, p.Group)
		}
		for _, m := range c.Members {
			if !m.Equal(sender) {
				recipients = append(recipients, m)
			}
		}
	}

	refs, err := e.uploadMedia(ctx, p.Media)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        utils.GenMessageID(),
		Sender:    sender,
		Receiver:  p.Receiver,
		Group:     p.Group,
		Content:   p.Content,
		Media:     refs,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	if err := e.persist(msg); err != nil {
		// uploaded media must not outlive a failed persist
		e.destroyMedia(ctx, refs)
		logger.Error("message_persist_failed", "msg", msg.ID, "error", err)
		return models.Message{}, protocol.Wrap(protocol.CodeInternal, err, "message persist failed")
	}

	e.mirror(ctx, events.KeyMessageCreated, msg)
	for _, r := range recipients {
		e.deliver(r, protocol.EvNewMessage, msg)
	}
	return msg, nil
}

// MarkRead flips a message to read. Only the direct receiver may do it,
// and only once; the sender gets a read receipt if connected.
func (e *Engine) MarkRead(ctx context.Context, actor models.ActorRef, msgID string) (models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Receiver == nil || !m.Receiver.Equal(actor) {
		return models.Message{}, protocol.E(protocol.CodeUnauthorized, "%s is not the receiver of %s", actor, msgID)
	}
	m, err = store.MarkRead(msgID)
	if err != nil {
		return models.Message{}, err
	}
	e.mirror(ctx, events.KeyMessageRead, protocol.ReceiptPayload{MessageID: msgID, Actor: actor})
	e.deliver(m.Sender, protocol.EvMessageRead, protocol.ReceiptPayload{MessageID: msgID, Actor: actor})
	return m, nil
}

// Delete soft-deletes a message for one party. The other party's view
// is untouched; they get a deletion notice if connected.
func (e *Engine) Delete(ctx context.Context, actor models.ActorRef, msgID string) (models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	others, err := e.deleteAudience(m, actor)
	if err != nil {
		return models.Message{}, err
	}
	m, err = store.SoftDelete(msgID, actor)
	if err != nil {
		return models.Message{}, err
	}
	e.mirror(ctx, events.KeyMessageDeleted, protocol.ReceiptPayload{MessageID: msgID, Actor: actor})
	for _, o := range others {
		e.deliver(o, protocol.EvMessageDeleted, protocol.ReceiptPayload{MessageID: msgID, Actor: actor})
	}
	return m, nil
}

// deleteAudience authorizes the deleting actor and returns the parties
// to notify: the counterpart for a direct message, every other member
// for a group message.
func (e *Engine) deleteAudience(m models.Message, actor models.ActorRef) ([]models.ActorRef, error) {
	if m.Group == "" {
		if !m.IsParty(actor) {
			return nil, protocol.E(protocol.CodeUnauthorized, "%s is not a party of %s", actor, m.ID)
		}
		return []models.ActorRef{m.OtherParty(actor)}, nil
	}
	c, err := store.GetConversation(m.Group)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(actor) {
		return nil, protocol.E(protocol.CodeUnauthorized, "%s is not a member of %s", actor, m.Group)
	}
	var others []models.ActorRef
	for _, member := range c.Members {
		if !member.Equal(actor) {
			others = append(others, member)
		}
	}
	return others, nil
}

// Archive sets or clears the actor's archive flag on a conversation.
// Archiving is per-member; other members' views are unaffected, they
// only get a notice if connected.
func (e *Engine) Archive(ctx context.Context, actor models.ActorRef, convID string, archived bool) (models.Conversation, error) {
	c, err := store.GetConversation(convID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !c.HasMember(actor) {
		return models.Conversation{}, protocol.E(protocol.CodeUnauthorized, "%s is not a member of %s", actor, convID)
	}
	c, err = store.SetArchived(convID, actor, archived)
	if err != nil {
		return models.Conversation{}, err
	}
	ev := protocol.EvConvArchived
	if !archived {
		ev = protocol.EvConvUnarchived
	}
	for _, member := range c.Members {
		if !member.Equal(actor) {
			e.deliver(member, ev, protocol.ArchivePayload{ConversationID: convID, Actor: actor})
		}
	}
	return c, nil
}

// BlockActor creates a directed block edge and notifies the target.
func (e *Engine) BlockActor(ctx context.Context, actor, target models.ActorRef) error {
	if err := validateBlockTarget(actor, target); err != nil {
		return err
	}
	if err := store.Block(actor, target); err != nil {
		return err
	}
	e.mirror(ctx, events.KeyActorBlocked, protocol.ActorPayload{Actor: actor})
	e.deliver(target, protocol.BlockedByEvent(actor.Kind, true), protocol.ActorPayload{Actor: actor})
	return nil
}

// UnblockActor removes a directed block edge and notifies the target.
func (e *Engine) UnblockActor(ctx context.Context, actor, target models.ActorRef) error {
	if err := validateBlockTarget(actor, target); err != nil {
		return err
	}
	if err := store.Unblock(actor, target); err != nil {
		return err
	}
	e.mirror(ctx, events.KeyActorUnblocked, protocol.ActorPayload{Actor: actor})
	e.deliver(target, protocol.BlockedByEvent(actor.Kind, false), protocol.ActorPayload{Actor: actor})
	return nil
}

func validateBlockTarget(actor, target models.ActorRef) error {
	if !target.Valid() {
		return protocol.E(protocol.CodeValidation, "invalid target actor")
	}
	if actor.Equal(target) {
		return protocol.E(protocol.CodeSelfReference, "cannot block yourself")
	}
	ok, err := store.ActorExists(target)
	if err != nil {
		return err
	}
	if !ok {
		return protocol.E(protocol.CodeNotFound, "actor %s not found", target)
	}
	return nil
}

// validateSend enforces the structural send invariants: exactly one
// target, content or media present, size caps, and the kind-pairing
// rule (no Shop↔Shop or Instructor↔Instructor direct messages;
// User↔User is fine).
func validateSend(sender models.ActorRef, p protocol.SendPayload) error {
	hasReceiver := p.Receiver != nil
	hasGroup := p.Group != ""
	if hasReceiver == hasGroup {
		return protocol.E(protocol.CodeValidation, "exactly one of receiver or group must be set")
	}
	if p.Content == "" && len(p.Media) == 0 {
		return protocol.E(protocol.CodeValidation, "message needs content or media")
	}
	// the limit counts characters, not bytes
	if utf8.RuneCountInString(p.Content) > models.MaxContentLen {
		return protocol.E(protocol.CodeValidation, "content exceeds %d characters", models.MaxContentLen)
	}
	if len(p.Media) > models.MaxMediaPerMessage {
		return protocol.E(protocol.CodeValidation, "at most %d media attachments", models.MaxMediaPerMessage)
	}
	for _, m := range p.Media {
		if m.Type != models.MediaImage && m.Type != models.MediaVideo {
			return protocol.E(protocol.CodeValidation, "unknown media type %q", m.Type)
		}
		if len(m.Data) == 0 {
			return protocol.E(protocol.CodeValidation, "empty media attachment")
		}
	}
	if hasReceiver {
		recipient := *p.Receiver
		if !recipient.Valid() {
			return protocol.E(protocol.CodeValidation, "invalid recipient")
		}
		if sender.Equal(recipient) {
			return protocol.E(protocol.CodeValidation, "cannot message yourself")
		}
		if sender.Kind == recipient.Kind && sender.Kind != models.KindUser {
			return protocol.E(protocol.CodeValidation, "%s to %s direct messages are not allowed", sender.Kind, recipient.Kind)
		}
	}
	return nil
}

// uploadMedia pushes every attachment and returns the handles. On a
// mid-batch failure the already-uploaded objects are destroyed so no
// orphan outlives the failed send.
func (e *Engine) uploadMedia(ctx context.Context, uploads []protocol.MediaUpload) ([]models.MediaRef, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if e.media == nil {
		return nil, protocol.E(protocol.CodeUploadFailed, "media store not configured")
	}
	refs := make([]models.MediaRef, 0, len(uploads))
	for _, u := range uploads {
		ref, err := e.media.Upload(ctx, u.Data, u.Type)
		if err != nil {
			e.destroyMedia(ctx, refs)
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// destroyMedia rolls back uploads, best-effort.
func (e *Engine) destroyMedia(ctx context.Context, refs []models.MediaRef) {
	for _, ref := range refs {
		if err := e.media.Destroy(ctx, ref.StorageID); err != nil {
			logger.Warn("media_destroy_failed", "storage_id", ref.StorageID, "error", err)
		}
	}
}

// deliver hands one outbound event to a live connection, if any.
func (e *Engine) deliver(to models.ActorRef, t protocol.EventType, payload any) {
	c := e.registry.Lookup(to)
	if c == nil {
		return
	}
	env, err := protocol.Outbound(t, "", payload)
	if err != nil {
		logger.Error("outbound_marshal_failed", "type", t, "error", err)
		return
	}
	if c.Send(env) {
		telemetry.DeliveriesTotal.WithLabelValues(string(t)).Inc()
		return
	}
	telemetry.DroppedOutboundTotal.Inc()
	logger.Warn("outbound_dropped", "to", to, "type", t)
}

// mirror publishes a lifecycle event to the AMQP exchange, best-effort.
func (e *Engine) mirror(ctx context.Context, key string, payload any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, key, events.Envelope{Type: key, Payload: payload}); err != nil {
		telemetry.PublishedEventsTotal.WithLabelValues("error").Inc()
		logger.Warn("event_mirror_failed", "key", key, "error", err)
		return
	}
	telemetry.PublishedEventsTotal.WithLabelValues("ok").Inc()
}
