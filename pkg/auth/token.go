// Package auth verifies the bearer credentials minted by the external
// identity authority. chatrelay only verifies tokens, it never issues
// them to clients; Sign exists for the authority's tooling and tests.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
)

// Token format: base64url(kind:id:expiry_unix) + "." + hex(HMAC-SHA256
// over the payload with one of the configured signing keys). Multiple
// keys are tried so keys can rotate without invalidating live sessions.

// Sign builds a credential for the given actor, valid until exp.
func Sign(actor models.ActorRef, exp time.Time, key string) string {
	payload := actor.Key() + ":" + strconv.FormatInt(exp.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + hex.EncodeToString(mac.Sum(nil))
}

// Verify decodes and checks a credential, returning the actor identity.
// All failures carry CodeAuth; callers close the connection on them.
func Verify(credential string) (models.ActorRef, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "missing credential")
	}
	dot := strings.LastIndexByte(credential, '.')
	if dot <= 0 || dot == len(credential)-1 {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "malformed credential")
	}
	rawPayload, sig := credential[:dot], credential[dot+1:]
	payload, err := base64.RawURLEncoding.DecodeString(rawPayload)
	if err != nil {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "malformed credential")
	}

	keys := config.GetSigningKeys()
	if len(keys) == 0 {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "no signing keys configured")
	}
	ok := false
	for k := range keys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write(payload)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			ok = true
			break
		}
	}
	if !ok {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "invalid signature")
	}

	// payload is kind:id:exp
	body := string(payload)
	i := strings.LastIndexByte(body, ':')
	if i <= 0 || i == len(body)-1 {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "malformed credential payload")
	}
	ref, err := models.ParseActorKey(body[:i])
	if err != nil || !ref.Valid() {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "malformed actor identity")
	}
	expUnix, err := strconv.ParseInt(body[i+1:], 10, 64)
	if err != nil {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "malformed expiry")
	}
	if time.Now().Unix() >= expUnix {
		return models.ActorRef{}, protocol.E(protocol.CodeAuth, "credential expired")
	}
	return ref, nil
}
