package utils

import "github.com/google/uuid"

// GenMessageID returns a new unique message id.
func GenMessageID() string { return "m-" + uuid.NewString() }

// GenGroupID returns a new group-conversation id. Direct conversations
// derive their id from the member pair instead (models.DirectConversationID).
func GenGroupID() string { return "grp:" + uuid.NewString() }
