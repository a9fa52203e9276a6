package conversation

import "strings"

// DefaultTopic is used when no strategy can recover a topic.
const DefaultTopic = "the previous concept"

// minTopicLen is the length a new-topic message must exceed to become the topic.
const minTopicLen = 5

// Resolver tries to recover a topic from a conversation state.
type Resolver func(st State) (string, bool)

// DefaultResolvers returns the fallback chain used when a follow-up arrives
// without a current topic.
func DefaultResolvers(rs RuleSet) []Resolver {
	return []Resolver{
		LastSubstantiveQuestion(rs),
		LastAnswerFirstSentence,
		SubjectKeyword(rs),
	}
}

// LastSubstantiveQuestion picks the latest user turn that is not itself a
// follow-up or explain-again request.
func LastSubstantiveQuestion(rs RuleSet) Resolver {
	return func(st State) (string, bool) {
		for i := len(st.History) - 1; i >= 0; i-- {
			t := st.History[i]
			if t.Role != RoleUser {
				continue
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			if rs.Classify(text).IsNewTopic() {
				return text, true
			}
		}
		return "", false
	}
}

// LastAnswerFirstSentence uses the first sentence of the latest assistant turn.
func LastAnswerFirstSentence(st State) (string, bool) {
	for i := len(st.History) - 1; i >= 0; i-- {
		t := st.History[i]
		if t.Role != RoleAssistant {
			continue
		}
		if s := firstSentence(t.Text); s != "" {
			return s, true
		}
	}
	return "", false
}

// SubjectKeyword scans turns newest first for a known subject word.
func SubjectKeyword(rs RuleSet) Resolver {
	return func(st State) (string, bool) {
		for i := len(st.History) - 1; i >= 0; i-- {
			lower := strings.ToLower(st.History[i].Text)
			for _, subject := range rs.Subjects {
				if strings.Contains(lower, subject) {
					return subject, true
				}
			}
		}
		return "", false
	}
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '.'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
