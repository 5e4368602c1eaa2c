package models

// Conversation groups messages between two or more actors. Direct 1:1
// threads are implicit: their id is derived from the unordered actor
// pair, so the same two actors always land in the same conversation.
// Group conversations get generated ids and an explicit member list.
type Conversation struct {
	ID             string          `json:"id"`
	Members        []ActorRef      `json:"members"`
	MemberKindHint string          `json:"member_kind_hint,omitempty"`
	ArchivedBy     map[string]bool `json:"archived_by,omitempty"`
	CreatedTS      int64           `json:"created_ts,omitempty"`
	UpdatedTS      int64           `json:"updated_ts,omitempty"`
}

// HasMember reports whether the actor is a current member.
func (c *Conversation) HasMember(a ActorRef) bool {
	for _, m := range c.Members {
		if m.Equal(a) {
			return true
		}
	}
	return false
}

// ArchivedFor reports the actor's archive flag. Only members ever have
// entries in ArchivedBy.
func (c *Conversation) ArchivedFor(a ActorRef) bool {
	if c.ArchivedBy == nil {
		return false
	}
	return c.ArchivedBy[a.Key()]
}

// SetArchived records the actor's archive flag, pruning false entries
// so ArchivedBy never grows beyond the member set.
func (c *Conversation) SetArchived(a ActorRef, archived bool) {
	if !archived {
		delete(c.ArchivedBy, a.Key())
		return
	}
	if c.ArchivedBy == nil {
		c.ArchivedBy = make(map[string]bool, len(c.Members))
	}
	c.ArchivedBy[a.Key()] = true
}

// DirectConversationID derives the implicit conversation id for a 1:1
// thread. The pair is sorted so both directions map to the same id.
func DirectConversationID(a, b ActorRef) string {
	ka, kb := a.Key(), b.Key()
	if kb < ka {
		ka, kb = kb, ka
	}
	return "dm:" + ka + "|" + kb
}

// BlockEdge is a directed block relation. One edge per ordered pair.
// An edge in either direction suppresses direct-message delivery; it
// never deletes history.
type BlockEdge struct {
	Blocker   ActorRef `json:"blocker"`
	Blocked   ActorRef `json:"blocked"`
	CreatedTS int64    `json:"created_ts"`
}
