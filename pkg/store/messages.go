package store

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
)

func msgKey(id string) string { return "msg:" + id }

// convIndexKey orders messages inside a conversation by creation time.
// The message id suffix keeps keys unique when timestamps collide and
// lets the retention runner reconstruct the index key from the row.
func convIndexKey(convID string, ts int64, msgID string) string {
	return fmt.Sprintf("conv:%s:msg:%020d-%s", convID, ts, msgID)
}

// CreateMessage persists a new message: canonical row, conversation
// index entry, and a conversation-metadata bump. The canonical row under
// msg:<id> is the only document mutations ever touch.
func CreateMessage(m models.Message) error {
	defer telemetry.ObserveStoreOp("create_message", time.Now())
	if db == nil {
		return errNotOpen
	}
	convID := m.ConversationID()
	if convID == "" {
		return protocol.E(protocol.CodeValidation, "message %s has no conversation", m.ID)
	}
	if err := setJSON(msgKey(m.ID), m); err != nil {
		logger.Error("save_message_failed", "msg", m.ID, "error", err)
		return err
	}
	if err := db.Set([]byte(convIndexKey(convID, m.CreatedTS, m.ID)), []byte(m.ID), pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "msg", m.ID, "conversation", convID, "error", err)
		return err
	}
	mu := docLock(convMetaKey(convID))
	mu.Lock()
	defer mu.Unlock()
	c, err := GetConversation(convID)
	if protocol.CodeOf(err) == protocol.CodeNotFound && m.Group == "" {
		// first contact on a direct pair materializes its metadata row
		c, err = ensureDirect(convID, m.Sender, *m.Receiver)
	}
	if err != nil {
		return err
	}
	c.UpdatedTS = m.CreatedTS
	if err := SaveConversation(c); err != nil {
		return err
	}
	logger.Info("message_saved", "msg", m.ID, "conversation", convID)
	return nil
}

// GetMessage returns the canonical row for the id.
func GetMessage(id string) (models.Message, error) {
	defer telemetry.ObserveStoreOp("get_message", time.Now())
	var m models.Message
	if err := getJSON(msgKey(id), &m); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, protocol.E(protocol.CodeNotFound, "message %s not found", id)
		}
		return models.Message{}, err
	}
	return m, nil
}

// MarkRead flips IsRead once. A second call is an idempotency violation
// reported to the caller, and the row is left unchanged.
func MarkRead(id string) (models.Message, error) {
	defer telemetry.ObserveStoreOp("mark_read", time.Now())
	mu := docLock(msgKey(id))
	mu.Lock()
	defer mu.Unlock()
	m, err := GetMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if m.IsRead {
		return models.Message{}, protocol.E(protocol.CodeAlreadyRead, "message %s already read", id)
	}
	m.IsRead = true
	if err := setJSON(msgKey(id), m); err != nil {
		return models.Message{}, err
	}
	logger.Info("message_read", "msg", id)
	return m, nil
}

// SoftDelete appends the actor to DeletedBy. The row is kept; the
// retention runner purges it once every party has deleted it.
func SoftDelete(id string, by models.ActorRef) (models.Message, error) {
	defer telemetry.ObserveStoreOp("soft_delete", time.Now())
	mu := docLock(msgKey(id))
	mu.Lock()
	defer mu.Unlock()
	m, err := GetMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if m.DeletedFor(by) {
		return models.Message{}, protocol.E(protocol.CodeAlreadyDeleted, "message %s already deleted by %s", id, by)
	}
	m.DeletedBy = append(m.DeletedBy, by)
	if err := setJSON(msgKey(id), m); err != nil {
		return models.Message{}, err
	}
	logger.Info("message_soft_deleted", "msg", id, "by", by)
	return m, nil
}

// PurgeMessage removes the canonical row and its index entry. Used only
// by retention once all parties deleted the message.
func PurgeMessage(m models.Message) error {
	defer telemetry.ObserveStoreOp("purge_message", time.Now())
	if err := deleteKey(convIndexKey(m.ConversationID(), m.CreatedTS, m.ID)); err != nil {
		return err
	}
	if err := deleteKey(msgKey(m.ID)); err != nil {
		return err
	}
	logger.Info("message_purged", "msg", m.ID)
	return nil
}

// ListConversationMessages returns messages in creation order. A limit
// > 0 keeps only the newest entries.
func ListConversationMessages(convID string, limit int) ([]models.Message, error) {
	defer telemetry.ObserveStoreOp("list_messages", time.Now())
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		ids = append(ids, string(append([]byte(nil), iter.Value()...)))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := GetMessage(id)
		if err != nil {
			// index entry pointing at a purged row; skip
			if protocol.CodeOf(err) == protocol.CodeNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// EachMessage walks every canonical message row. The walk stops when fn
// returns false. Used by the retention runner.
func EachMessage(fn func(models.Message) bool) error {
	if db == nil {
		return errNotOpen
	}
	prefix := []byte("msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := unmarshalValue(iter.Value(), &m); err != nil {
			return err
		}
		if !fn(m) {
			break
		}
	}
	return iter.Error()
}
