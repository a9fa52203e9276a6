package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole normalizes the role labels seen at the system boundary.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human", "learner":
		return RoleUser, nil
	case "assistant", "ai", "bot", "model":
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Turn is one message exchanged between the learner and the assistant.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the conversation context carried across turns for one learner.
// A zero State is an empty conversation.
type State struct {
	History      []Turn
	CurrentTopic string
	LastQuestion string
	LastResponse string
}

// Clone returns a copy whose history does not alias s.
func (s State) Clone() State {
	c := s
	if s.History != nil {
		c.History = make([]Turn, len(s.History))
		copy(c.History, s.History)
	}
	return c
}

// Kind is the tagged classification of an incoming learner message.
type Kind string

const (
	KindNewTopic     Kind = "new_topic"
	KindFollowUp     Kind = "follow_up"
	KindExplainAgain Kind = "explain_again"
)

// Classification records which rule families matched a message. Both flags
// may be set at once; explain-again wins when reducing to a Kind.
type Classification struct {
	FollowUp     bool
	ExplainAgain bool
}

func (c Classification) Kind() Kind {
	switch {
	case c.ExplainAgain:
		return KindExplainAgain
	case c.FollowUp:
		return KindFollowUp
	default:
		return KindNewTopic
	}
}

// IsNewTopic reports whether no follow-up or explain-again rule matched.
func (c Classification) IsNewTopic() bool {
	return !c.FollowUp && !c.ExplainAgain
}
