package store

import (
	"fmt"
	"sync"
	"testing"

	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
)

func openTest(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func user(id string) models.ActorRef { return models.ActorRef{Kind: models.KindUser, ID: id} }
func shop(id string) models.ActorRef { return models.ActorRef{Kind: models.KindShop, ID: id} }

func TestActorRoundtrip(t *testing.T) {
	openTest(t)

	a := models.Actor{Kind: models.KindShop, ID: "s1", DisplayName: "Shop One"}
	if err := SaveActor(a); err != nil {
		t.Fatalf("SaveActor: %v", err)
	}
	got, err := GetActor(a.Ref())
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if got.DisplayName != "Shop One" {
		t.Fatalf("unexpected actor: %+v", got)
	}

	ok, err := ActorExists(a.Ref())
	if err != nil || !ok {
		t.Fatalf("ActorExists = %v, %v", ok, err)
	}
	ok, err = ActorExists(user("missing"))
	if err != nil {
		t.Fatalf("ActorExists missing: %v", err)
	}
	if ok {
		t.Fatal("missing actor reported as existing")
	}

	_, err = GetActor(user("missing"))
	if protocol.CodeOf(err) != protocol.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestMessageRoundtrip(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	m := models.Message{
		ID:        "m1",
		Sender:    u,
		Receiver:  &s,
		Content:   "hello",
		CreatedTS: 100,
	}
	if err := CreateMessage(m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "hello" || !got.Sender.Equal(u) {
		t.Fatalf("unexpected message: %+v", got)
	}

	// creating a message must create the conversation row too
	conv, err := GetConversation(m.ConversationID())
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if !conv.HasMember(u) || !conv.HasMember(s) {
		t.Fatalf("conversation missing members: %+v", conv)
	}
	if conv.UpdatedTS != 100 {
		t.Fatalf("UpdatedTS = %d, want 100", conv.UpdatedTS)
	}
}

func TestMarkReadFlipsOnce(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	if err := CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &s, Content: "x", CreatedTS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := MarkRead("m1")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !got.IsRead {
		t.Fatal("IsRead not set")
	}

	_, err = MarkRead("m1")
	if protocol.CodeOf(err) != protocol.CodeAlreadyRead {
		t.Fatalf("expected already_read, got %v", err)
	}

	_, err = MarkRead("missing")
	if protocol.CodeOf(err) != protocol.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestSoftDeletePerParty(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	if err := CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &s, Content: "x", CreatedTS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := SoftDelete("m1", u)
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if !got.DeletedFor(u) || got.DeletedFor(s) {
		t.Fatalf("unexpected DeletedBy: %+v", got.DeletedBy)
	}

	// same actor twice is a conflict, the other party still may delete
	if _, err := SoftDelete("m1", u); protocol.CodeOf(err) != protocol.CodeAlreadyDeleted {
		t.Fatalf("expected already_deleted, got %v", err)
	}
	got, err = SoftDelete("m1", s)
	if err != nil {
		t.Fatalf("SoftDelete other party: %v", err)
	}
	if !got.DeletedFor(u) || !got.DeletedFor(s) {
		t.Fatalf("unexpected DeletedBy: %+v", got.DeletedBy)
	}

	// the row itself survives soft deletion
	if _, err := GetMessage("m1"); err != nil {
		t.Fatalf("row purged by soft delete: %v", err)
	}
}

func TestPurgeMessageRemovesRowAndIndex(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	m := models.Message{ID: "m1", Sender: u, Receiver: &s, Content: "x", CreatedTS: 7}
	if err := CreateMessage(m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := PurgeMessage(m); err != nil {
		t.Fatalf("PurgeMessage: %v", err)
	}
	if _, err := GetMessage("m1"); protocol.CodeOf(err) != protocol.CodeNotFound {
		t.Fatalf("expected not_found after purge, got %v", err)
	}
	msgs, err := ListConversationMessages(m.ConversationID(), 10)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("index entry survived purge: %+v", msgs)
	}
}

func TestListConversationMessagesOrderAndLimit(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	for i, ts := range []int64{10, 20, 30} {
		m := models.Message{ID: "m" + string(rune('a'+i)), Sender: u, Receiver: &s, Content: "x", CreatedTS: ts}
		if err := CreateMessage(m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := ListConversationMessages(models.DirectConversationID(u, s), 2)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("limit not applied: got %d", len(msgs))
	}
	// limit keeps the newest tail, ascending order
	if msgs[0].CreatedTS != 20 || msgs[1].CreatedTS != 30 {
		t.Fatalf("unexpected order: %d, %d", msgs[0].CreatedTS, msgs[1].CreatedTS)
	}
}

func TestBlocksBothDirections(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	if err := Block(u, s); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := Block(u, s); protocol.CodeOf(err) != protocol.CodeAlreadyExists {
		t.Fatalf("expected already_exists, got %v", err)
	}

	// a single edge blocks delivery both ways
	for _, pair := range [][2]models.ActorRef{{u, s}, {s, u}} {
		blocked, err := IsBlocked(pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsBlocked: %v", err)
		}
		if !blocked {
			t.Fatalf("edge %v->%v not visible", pair[0], pair[1])
		}
	}

	edges, err := ListBlocks(u)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(edges) != 1 || !edges[0].Blocked.Equal(s) {
		t.Fatalf("unexpected edges: %+v", edges)
	}

	if err := Unblock(u, s); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if err := Unblock(u, s); protocol.CodeOf(err) != protocol.CodeNotBlocked {
		t.Fatalf("expected not_blocked, got %v", err)
	}
	blocked, err := IsBlocked(u, s)
	if err != nil || blocked {
		t.Fatalf("IsBlocked after unblock = %v, %v", blocked, err)
	}
}

func TestEnsureDirectConversationIdempotent(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	c1, err := EnsureDirectConversation(u, s)
	if err != nil {
		t.Fatalf("EnsureDirectConversation: %v", err)
	}
	c2, err := EnsureDirectConversation(s, u)
	if err != nil {
		t.Fatalf("EnsureDirectConversation reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("direct conversation id differs by order: %s vs %s", c1.ID, c2.ID)
	}
}

func TestSetArchivedPerActor(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	conv, err := EnsureDirectConversation(u, s)
	if err != nil {
		t.Fatalf("EnsureDirectConversation: %v", err)
	}

	got, err := SetArchived(conv.ID, u, true)
	if err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	if !got.ArchivedFor(u) || got.ArchivedFor(s) {
		t.Fatalf("archive flag leaked across actors: %+v", got.ArchivedBy)
	}

	got, err = SetArchived(conv.ID, u, false)
	if err != nil {
		t.Fatalf("SetArchived unarchive: %v", err)
	}
	if got.ArchivedFor(u) {
		t.Fatal("unarchive did not clear flag")
	}
}

func TestListConversationsForSortsByActivity(t *testing.T) {
	openTest(t)

	u := user("u1")
	s1, s2 := shop("s1"), shop("s2")
	if err := CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &s1, Content: "x", CreatedTS: 10}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := CreateMessage(models.Message{ID: "m2", Sender: u, Receiver: &s2, Content: "x", CreatedTS: 20}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	convs, err := ListConversationsFor(u)
	if err != nil {
		t.Fatalf("ListConversationsFor: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].UpdatedTS < convs[1].UpdatedTS {
		t.Fatalf("not sorted by recency: %d before %d", convs[0].UpdatedTS, convs[1].UpdatedTS)
	}

	// non-members see nothing
	convs, err = ListConversationsFor(shop("s3"))
	if err != nil {
		t.Fatalf("ListConversationsFor stranger: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("stranger sees conversations: %+v", convs)
	}
}

func TestCreateGroup(t *testing.T) {
	openTest(t)

	members := []models.ActorRef{user("u1"), user("u2"), shop("s1")}
	g, err := CreateGroup(members, "support")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	got, err := GetConversation(g.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	for _, m := range members {
		if !got.HasMember(m) {
			t.Fatalf("member %v missing", m)
		}
	}
}

func TestConcurrentSoftDeleteKeepsBothParties(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("m-%d", i)
		if err := CreateMessage(models.Message{ID: id, Sender: u, Receiver: &s, Content: "x", CreatedTS: int64(i + 1)}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		var wg sync.WaitGroup
		for _, by := range []models.ActorRef{u, s} {
			wg.Add(1)
			go func(by models.ActorRef) {
				defer wg.Done()
				if _, err := SoftDelete(id, by); err != nil {
					t.Errorf("SoftDelete %v: %v", by, err)
				}
			}(by)
		}
		wg.Wait()
		got, err := GetMessage(id)
		if err != nil {
			t.Fatalf("GetMessage: %v", err)
		}
		if !got.DeletedFor(u) || !got.DeletedFor(s) {
			t.Fatalf("lost a delete on %s: DeletedBy=%v", id, got.DeletedBy)
		}
	}
}

func TestConcurrentArchiveAndActivityBump(t *testing.T) {
	openTest(t)

	u, s := user("u1"), shop("s1")
	if err := CreateMessage(models.Message{ID: "m1", Sender: u, Receiver: &s, Content: "x", CreatedTS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	convID := models.DirectConversationID(u, s)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("bump-%d", i)
		ts := int64(i + 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := SetArchived(convID, u, true); err != nil {
				t.Errorf("SetArchived: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := CreateMessage(models.Message{ID: id, Sender: s, Receiver: &u, Content: "x", CreatedTS: ts}); err != nil {
				t.Errorf("CreateMessage: %v", err)
			}
		}()
		wg.Wait()
		c, err := GetConversation(convID)
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		if !c.ArchivedFor(u) {
			t.Fatalf("round %d lost the archive flag: %+v", i, c)
		}
		if c.UpdatedTS != ts {
			t.Fatalf("round %d lost the activity bump: UpdatedTS=%d want %d", i, c.UpdatedTS, ts)
		}
		if _, err := SetArchived(convID, u, false); err != nil {
			t.Fatalf("SetArchived reset: %v", err)
		}
	}
}
