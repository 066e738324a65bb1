package chat

import (
	"github.com/google/uuid"

	"allfixer/agreement"
)

// conversationNamespace seeds the name-based conversation ids.
var conversationNamespace = uuid.MustParse("8b1f2c7e-4d1a-4c55-9a8e-3f2b6d0c9e41")

// ConversationID derives the id of the conversation between a and b. The pair
// is normalised and sorted first, so ConversationID(a, b) == ConversationID(b, a).
func ConversationID(a, b string) (string, [2]string, error) {
	a, b = agreement.NormalizeActor(a), agreement.NormalizeActor(b)
	if a == "" || b == "" {
		return "", [2]string{}, ErrInvalidParticipant
	}
	if a == b {
		return "", [2]string{}, ErrSameParticipant
	}
	if b < a {
		a, b = b, a
	}
	id := uuid.NewSHA1(conversationNamespace, []byte(a+"\x00"+b))
	return id.String(), [2]string{a, b}, nil
}
