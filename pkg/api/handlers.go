package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// conversationView is the per-caller shape of a conversation: the shared
// archive map collapses to a single flag for the requesting actor.
type conversationView struct {
	ID        string            `json:"id"`
	Members   []models.ActorRef `json:"members"`
	Archived  bool              `json:"archived"`
	CreatedTS int64             `json:"created_ts"`
	UpdatedTS int64             `json:"updated_ts"`
}

func listConversations(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	convs, err := store.ListConversationsFor(actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationView{
			ID:        c.ID,
			Members:   c.Members,
			Archived:  c.ArchivedFor(actor),
			CreatedTS: c.CreatedTS,
			UpdatedTS: c.UpdatedTS,
		})
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []conversationView `json:"conversations"`
	}{Conversations: out})
}

func listMessages(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	convID := mux.Vars(r)["id"]
	conv, err := store.GetConversation(convID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !conv.HasMember(actor) {
		writeErr(w, protocol.E(protocol.CodeUnauthorized, "not a conversation member"))
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeErr(w, protocol.E(protocol.CodeValidation, "invalid limit"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	msgs, err := store.ListConversationMessages(convID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	// Rows the caller soft-deleted stay invisible to them.
	out := msgs[:0]
	for _, m := range msgs {
		if !m.DeletedFor(actor) {
			out = append(out, m)
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ConversationID string           `json:"conversation_id"`
		Messages       []models.Message `json:"messages"`
	}{ConversationID: convID, Messages: out})
}

func listBlocks(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	edges, err := store.ListBlocks(actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Blocks []models.BlockEdge `json:"blocks"`
	}{Blocks: edges})
}

// putActor upserts an actor profile pushed by the backend. Presence and
// routing only ever see actors synced through here.
func putActor(w http.ResponseWriter, r *http.Request) {
	var a models.Actor
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid json"))
		return
	}
	if !a.Ref().Valid() {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid actor reference"))
		return
	}
	if err := store.SaveActor(a); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("actor_synced", "actor", a.Ref())
	_ = utils.JSONWrite(w, http.StatusOK, a)
}

type groupRequest struct {
	Members []models.ActorRef `json:"members"`
	Hint    string            `json:"hint,omitempty"`
}

// createGroup provisions a group conversation on behalf of the backend.
// Every member must already be synced through putActor.
func createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid json"))
		return
	}
	if len(req.Members) < 2 {
		writeErr(w, protocol.E(protocol.CodeValidation, "a group needs at least two members"))
		return
	}
	seen := make(map[string]bool, len(req.Members))
	for _, m := range req.Members {
		if !m.Valid() {
			writeErr(w, protocol.E(protocol.CodeValidation, "invalid member reference %s", m))
			return
		}
		if seen[m.Key()] {
			writeErr(w, protocol.E(protocol.CodeValidation, "duplicate member %s", m))
			return
		}
		seen[m.Key()] = true
		if _, err := store.GetActor(m); err != nil {
			writeErr(w, err)
			return
		}
	}
	c, err := store.CreateGroup(req.Members, req.Hint)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("group_provisioned", "conversation", c.ID, "members", len(c.Members))
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

type tokenRequest struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// mintToken issues a short-lived connection credential for an actor.
// Backend-only; clients never sign their own tokens.
func mintToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid json"))
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid actor kind %q", req.Kind))
		return
	}
	ref := models.ActorRef{Kind: kind, ID: req.ID}
	if !ref.Valid() {
		writeErr(w, protocol.E(protocol.CodeValidation, "invalid actor reference"))
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	var key string
	for k := range config.GetSigningKeys() {
		key = k
		break
	}
	if key == "" {
		writeErr(w, protocol.E(protocol.CodeInternal, "no signing keys configured"))
		return
	}
	exp := time.Now().Add(ttl)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}{Token: auth.Sign(ref, exp, key), Expires: exp.Unix()})
}

// writeErr maps the error taxonomy onto HTTP statuses and emits the
// client-safe message only.
func writeErr(w http.ResponseWriter, err error) {
	utils.JSONError(w, statusFor(protocol.CodeOf(err)), protocol.ClientMessage(err))
}

func statusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeValidation, protocol.CodeSelfReference:
		return http.StatusBadRequest
	case protocol.CodeAuth:
		return http.StatusUnauthorized
	case protocol.CodeUnauthorized, protocol.CodeBlocked:
		return http.StatusForbidden
	case protocol.CodeNotFound, protocol.CodeNotBlocked:
		return http.StatusNotFound
	case protocol.CodeAlreadyRead, protocol.CodeAlreadyDeleted, protocol.CodeAlreadyExists:
		return http.StatusConflict
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
