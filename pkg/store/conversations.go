package store

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

func convMetaKey(convID string) string { return "conv:" + convID + ":meta" }

// GetConversation returns the conversation metadata document.
func GetConversation(id string) (models.Conversation, error) {
	defer telemetry.ObserveStoreOp("get_conversation", time.Now())
	var c models.Conversation
	if err := getJSON(convMetaKey(id), &c); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Conversation{}, protocol.E(protocol.CodeNotFound, "conversation %s not found", id)
		}
		return models.Conversation{}, err
	}
	return c, nil
}

// SaveConversation writes the conversation metadata document.
func SaveConversation(c models.Conversation) error {
	defer telemetry.ObserveStoreOp("save_conversation", time.Now())
	if err := setJSON(convMetaKey(c.ID), c); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	return nil
}

// EnsureDirectConversation returns the implicit 1:1 conversation for the
// pair, creating its metadata row on first contact.
func EnsureDirectConversation(a, b models.ActorRef) (models.Conversation, error) {
	id := models.DirectConversationID(a, b)
	mu := docLock(convMetaKey(id))
	mu.Lock()
	defer mu.Unlock()
	return ensureDirect(id, a, b)
}

// ensureDirect is the body of EnsureDirectConversation. Callers must
// hold the conversation's document lock.
func ensureDirect(id string, a, b models.ActorRef) (models.Conversation, error) {
	c, err := GetConversation(id)
	if err == nil {
		return c, nil
	}
	if protocol.CodeOf(err) != protocol.CodeNotFound {
		return models.Conversation{}, err
	}
	now := time.Now().UTC().UnixNano()
	c = models.Conversation{
		ID:             id,
		Members:        []models.ActorRef{a, b},
		MemberKindHint: kindHint(a, b),
		CreatedTS:      now,
		UpdatedTS:      now,
	}
	if err := SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	logger.Info("conversation_created", "conversation", id)
	return c, nil
}

// CreateGroup creates a group conversation with a generated id.
func CreateGroup(members []models.ActorRef, hint string) (models.Conversation, error) {
	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:             utils.GenGroupID(),
		Members:        members,
		MemberKindHint: hint,
		CreatedTS:      now,
		UpdatedTS:      now,
	}
	if err := SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	logger.Info("group_created", "conversation", c.ID, "members", len(members))
	return c, nil
}

// SetArchived flips the actor's archive flag on the conversation and
// returns the updated document. Membership is checked by the caller.
func SetArchived(convID string, actor models.ActorRef, archived bool) (models.Conversation, error) {
	mu := docLock(convMetaKey(convID))
	mu.Lock()
	defer mu.Unlock()
	c, err := GetConversation(convID)
	if err != nil {
		return models.Conversation{}, err
	}
	c.SetArchived(actor, archived)
	if err := SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	logger.Info("conversation_archive_set", "conversation", convID, "actor", actor, "archived", archived)
	return c, nil
}

// ListConversationsFor returns every conversation the actor is a member
// of, most recently updated first.
func ListConversationsFor(actor models.ActorRef) ([]models.Conversation, error) {
	defer telemetry.ObserveStoreOp("list_conversations", time.Now())
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !strings.HasSuffix(string(k), ":meta") {
			continue
		}
		var c models.Conversation
		if err := unmarshalValue(iter.Value(), &c); err != nil {
			return nil, err
		}
		if c.HasMember(actor) {
			out = append(out, c)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

func kindHint(a, b models.ActorRef) string {
	if a.Kind == b.Kind {
		return string(a.Kind)
	}
	ka, kb := string(a.Kind), string(b.Kind)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "-" + kb
}
