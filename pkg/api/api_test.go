package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Security.SigningKeys = []string{"sk-test"}
	cfg.Security.BackendKeys = []string{"bk-test"}
	cfg.Security.RateLimit.RPS = 1000
	cfg.Security.RateLimit.Burst = 1000
	config.SetRuntime(cfg.Runtime())
	t.Cleanup(func() { config.SetRuntime(nil) })

	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	return Router(cfg, ws)
}

func bearer(t *testing.T, a models.ActorRef) string {
	t.Helper()
	return "Bearer " + auth.Sign(a, time.Now().Add(time.Hour), "sk-test")
}

func TestHealthEndpoints(t *testing.T) {
	h := setupRouter(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestListConversationsRequiresAuth(t *testing.T) {
	h := setupRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConversations(t *testing.T) {
	h := setupRouter(t)
	u := models.ActorRef{Kind: models.KindUser, ID: "u1"}
	s := models.ActorRef{Kind: models.KindShop, ID: "s1"}
	receiver := s
	require.NoError(t, store.CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &receiver, Content: "x", CreatedTS: 5}))
	_, err := store.SetArchived(models.DirectConversationID(u, s), u, true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", bearer(t, u))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversations []conversationView `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Conversations, 1)
	require.True(t, body.Conversations[0].Archived)

	// the other member sees the same conversation unarchived
	req = httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", bearer(t, s))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Conversations, 1)
	require.False(t, body.Conversations[0].Archived)
}

func TestListMessagesFiltersAndAuthorizes(t *testing.T) {
	h := setupRouter(t)
	u := models.ActorRef{Kind: models.KindUser, ID: "u1"}
	s := models.ActorRef{Kind: models.KindShop, ID: "s1"}
	receiver := s
	require.NoError(t, store.CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &receiver, Content: "one", CreatedTS: 1}))
	require.NoError(t, store.CreateMessage(models.Message{ID: "m2", Sender: u, Receiver: &receiver, Content: "two", CreatedTS: 2}))
	_, err := store.SoftDelete("m1", u)
	require.NoError(t, err)

	convID := models.DirectConversationID(u, s)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", bearer(t, u))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	require.Equal(t, "m2", body.Messages[0].ID)

	// the deleting actor's view does not affect the counterpart
	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", bearer(t, s))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)

	// non-members are rejected
	stranger := models.ActorRef{Kind: models.KindUser, ID: "u9"}
	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", bearer(t, stranger))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// bad limit
	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/"+convID+"/messages?limit=zero", nil)
	req.Header.Set("Authorization", bearer(t, u))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBlocks(t *testing.T) {
	h := setupRouter(t)
	u := models.ActorRef{Kind: models.KindUser, ID: "u1"}
	s := models.ActorRef{Kind: models.KindShop, ID: "s1"}
	require.NoError(t, store.Block(u, s))

	req := httptest.NewRequest(http.MethodGet, "/v1/blocks", nil)
	req.Header.Set("Authorization", bearer(t, u))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Blocks []models.BlockEdge `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Blocks, 1)
	require.Equal(t, s, body.Blocks[0].Blocked)
}

func TestPutActor(t *testing.T) {
	h := setupRouter(t)

	body := `{"kind":"shop","id":"s1","display_name":"Shop One"}`
	req := httptest.NewRequest(http.MethodPut, "/v1/actors", strings.NewReader(body))
	req.Header.Set("X-API-Key", "bk-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetActor(models.ActorRef{Kind: models.KindShop, ID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "Shop One", got.DisplayName)

	// actor keys are not bearer credentials
	req = httptest.NewRequest(http.MethodPut, "/v1/actors", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// invalid kind
	req = httptest.NewRequest(http.MethodPut, "/v1/actors", strings.NewReader(`{"kind":"robot","id":"r1"}`))
	req.Header.Set("X-API-Key", "bk-test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMintToken(t *testing.T) {
	h := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", strings.NewReader(`{"kind":"user","id":"u1"}`))
	req.Header.Set("X-API-Key", "bk-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	require.Greater(t, body.Expires, time.Now().Unix())

	// the minted token verifies against the configured signing keys
	actor, err := auth.Verify(body.Token)
	require.NoError(t, err)
	require.Equal(t, models.ActorRef{Kind: models.KindUser, ID: "u1"}, actor)

	// ids containing the payload delimiter would mint an unverifiable
	// credential, so minting rejects them up front
	req = httptest.NewRequest(http.MethodPost, "/v1/tokens", strings.NewReader(`{"kind":"user","id":"a:b"}`))
	req.Header.Set("X-API-Key", "bk-test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroup(t *testing.T) {
	h := setupRouter(t)
	for _, a := range []models.Actor{
		{Kind: models.KindUser, ID: "u1"},
		{Kind: models.KindUser, ID: "u2"},
		{Kind: models.KindShop, ID: "s1"},
	} {
		require.NoError(t, store.SaveActor(a))
	}

	body := `{"members":[{"kind":"user","id":"u1"},{"kind":"user","id":"u2"},{"kind":"shop","id":"s1"}],"hint":"support"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/groups", strings.NewReader(body))
	req.Header.Set("X-API-Key", "bk-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.True(t, strings.HasPrefix(conv.ID, "grp:"))
	require.Len(t, conv.Members, 3)

	// the created group is routable
	got, err := store.GetConversation(conv.ID)
	require.NoError(t, err)
	require.True(t, got.HasMember(models.ActorRef{Kind: models.KindShop, ID: "s1"}))

	// a member that was never synced cannot be grouped
	body = `{"members":[{"kind":"user","id":"u1"},{"kind":"shop","id":"ghost"}]}`
	req = httptest.NewRequest(http.MethodPost, "/v1/groups", strings.NewReader(body))
	req.Header.Set("X-API-Key", "bk-test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// fewer than two members
	req = httptest.NewRequest(http.MethodPost, "/v1/groups", strings.NewReader(`{"members":[{"kind":"user","id":"u1"}]}`))
	req.Header.Set("X-API-Key", "bk-test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// duplicate members
	req = httptest.NewRequest(http.MethodPost, "/v1/groups", strings.NewReader(`{"members":[{"kind":"user","id":"u1"},{"kind":"user","id":"u1"}]}`))
	req.Header.Set("X-API-Key", "bk-test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// backend key required
	req = httptest.NewRequest(http.MethodPost, "/v1/groups", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
