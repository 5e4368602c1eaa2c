package store

import (
	"bytes"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
)

func blockKey(blocker, blocked models.ActorRef) string {
	return "block:" + blocker.Key() + "|" + blocked.Key()
}

// Block writes the directed edge blocker→target. Duplicate edges are
// reported, not swallowed.
func Block(blocker, target models.ActorRef) error {
	defer telemetry.ObserveStoreOp("block", time.Now())
	key := blockKey(blocker, target)
	var existing models.BlockEdge
	err := getJSON(key, &existing)
	if err == nil {
		return protocol.E(protocol.CodeAlreadyExists, "%s already blocks %s", blocker, target)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	edge := models.BlockEdge{Blocker: blocker, Blocked: target, CreatedTS: time.Now().UTC().UnixNano()}
	if err := setJSON(key, edge); err != nil {
		logger.Error("block_save_failed", "blocker", blocker, "target", target, "error", err)
		return err
	}
	logger.Info("block_created", "blocker", blocker, "target", target)
	return nil
}

// Unblock removes the directed edge blocker→target. A missing edge is
// reported as not_blocked.
func Unblock(blocker, target models.ActorRef) error {
	defer telemetry.ObserveStoreOp("unblock", time.Now())
	key := blockKey(blocker, target)
	var existing models.BlockEdge
	if err := getJSON(key, &existing); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return protocol.E(protocol.CodeNotBlocked, "%s does not block %s", blocker, target)
		}
		return err
	}
	if err := deleteKey(key); err != nil {
		logger.Error("unblock_delete_failed", "blocker", blocker, "target", target, "error", err)
		return err
	}
	logger.Info("block_removed", "blocker", blocker, "target", target)
	return nil
}

// IsBlocked reports whether either direction between a and b carries a
// block edge. Reads pebble fresh on every call; no cache is kept, so a
// just-written edge is visible to the next send.
func IsBlocked(a, b models.ActorRef) (bool, error) {
	defer telemetry.ObserveStoreOp("is_blocked", time.Now())
	for _, key := range []string{blockKey(a, b), blockKey(b, a)} {
		var edge models.BlockEdge
		err := getJSON(key, &edge)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// ListBlocks returns every edge the given actor created.
func ListBlocks(blocker models.ActorRef) ([]models.BlockEdge, error) {
	defer telemetry.ObserveStoreOp("list_blocks", time.Now())
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("block:" + blocker.Key() + "|")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.BlockEdge
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var edge models.BlockEdge
		if err := unmarshalValue(iter.Value(), &edge); err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, iter.Error()
}
