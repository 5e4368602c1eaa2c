package store

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
)

func actorKey(ref models.ActorRef) string { return "actor:" + ref.Key() }

// SaveActor upserts an actor profile row synced from the marketplace
// backend. Presence of a row is what makes the actor a valid recipient.
func SaveActor(a models.Actor) error {
	defer telemetry.ObserveStoreOp("save_actor", time.Now())
	if err := setJSON(actorKey(a.Ref()), a); err != nil {
		logger.Error("save_actor_failed", "actor", a.Ref(), "error", err)
		return err
	}
	logger.Info("actor_saved", "actor", a.Ref())
	return nil
}

// GetActor returns the profile for the given reference.
func GetActor(ref models.ActorRef) (models.Actor, error) {
	defer telemetry.ObserveStoreOp("get_actor", time.Now())
	var a models.Actor
	if err := getJSON(actorKey(ref), &a); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Actor{}, protocol.E(protocol.CodeNotFound, "actor %s not found", ref)
		}
		return models.Actor{}, err
	}
	return a, nil
}

// ActorExists reports whether a profile row exists for the reference.
func ActorExists(ref models.ActorRef) (bool, error) {
	_, err := GetActor(ref)
	if err == nil {
		return true, nil
	}
	if protocol.CodeOf(err) == protocol.CodeNotFound {
		return false, nil
	}
	return false, err
}
