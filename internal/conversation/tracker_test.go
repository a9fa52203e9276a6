package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/studybuddy/internal/memory"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func history(turns ...string) []Turn {
	out := make([]Turn, 0, len(turns)/2)
	for i := 0; i+1 < len(turns); i += 2 {
		out = append(out, Turn{Role: Role(turns[i]), Text: turns[i+1]})
	}
	return out
}

func TestClassifyExplainAgainAnyCase(t *testing.T) {
	tr := NewTracker()
	for _, text := range []string{
		"explain again",
		"Explain Again please",
		"could you EXPLAIN AGAIN how that works?",
		"ok... explain again",
	} {
		c := tr.Classify(text)
		assert.True(t, c.ExplainAgain, text)
		assert.Equal(t, KindExplainAgain, c.Kind(), text)
		// "again" is also a follow-up pattern; both flags travel together.
		assert.True(t, c.FollowUp, text)
	}
}

func TestClassifyFollowUpPatterns(t *testing.T) {
	tr := NewTracker()
	for _, text := range []string{"What about subtraction?", "can you explain the second step", "Tell me more", "how about a harder one"} {
		c := tr.Classify(text)
		assert.Equal(t, KindFollowUp, c.Kind(), text)
		assert.False(t, c.ExplainAgain, text)
	}
}

func TestClassifyWithoutPatternsIsNewTopic(t *testing.T) {
	tr := NewTracker()
	for _, text := range []string{"What is gravity?", "", "photosynthesis in plants", "Multiply 3 by 4"} {
		c := tr.Classify(text)
		assert.True(t, c.IsNewTopic(), text)
		assert.Equal(t, KindNewTopic, c.Kind(), text)
	}
}

func TestClassifyEnumeratesEveryRule(t *testing.T) {
	tr := NewTracker()
	for _, r := range tr.Rules().Rules {
		c := tr.Classify("well, " + strings.ToUpper(r.Pattern) + "!")
		switch r.Tag {
		case TagExplainAgain:
			assert.True(t, c.ExplainAgain, r.Pattern)
		case TagFollowUp:
			assert.True(t, c.FollowUp, r.Pattern)
		}
	}
}

func TestResolveTopicNewTopic(t *testing.T) {
	tr := NewTracker()
	st := State{CurrentTopic: "fractions"}

	c := tr.Classify("What is gravity?")
	assert.Equal(t, "What is gravity?", tr.ResolveTopic(c, "What is gravity?", st))

	c = tr.Classify("hi")
	assert.Equal(t, "fractions", tr.ResolveTopic(c, "hi", st))
}

func TestResolveTopicPrefersCurrentTopic(t *testing.T) {
	tr := NewTracker()
	st := State{
		CurrentTopic: "photosynthesis",
		History:      history("user", "What is addition?", "assistant", "Addition is combining numbers."),
	}
	c := tr.Classify("tell me more")
	assert.Equal(t, "photosynthesis", tr.ResolveTopic(c, "tell me more", st))
}

func TestResolveTopicExplainAgainNeverEmpty(t *testing.T) {
	tr := NewTracker()
	c := tr.Classify("explain again")

	cases := []State{
		{},
		{History: history("user", "explain again")},
		{History: history("user", "one more time", "user", "tell me more")},
		{History: history("assistant", "", "user", "say it again")},
		{History: history("assistant", ".")},
		{History: history("user", "Addition is fun", "assistant", "Sure. More soon.")},
	}
	for i, st := range cases {
		topic := tr.ResolveTopic(c, "explain again", st)
		assert.NotEmpty(t, topic, "case %d", i)
	}
	assert.Equal(t, DefaultTopic, tr.ResolveTopic(c, "explain again", State{}))
}

func TestResolverChainOrder(t *testing.T) {
	rs := DefaultRules()

	st := State{History: history(
		"user", "What is addition?",
		"assistant", "Addition is combining numbers. It is simple.",
		"user", "explain again",
	)}
	got, ok := LastSubstantiveQuestion(rs)(st)
	require.True(t, ok)
	assert.Equal(t, "What is addition?", got)

	st = State{History: history(
		"user", "tell me more",
		"assistant", "Gravity pulls things down. Always.",
	)}
	_, ok = LastSubstantiveQuestion(rs)(st)
	assert.False(t, ok)
	got, ok = LastAnswerFirstSentence(st)
	require.True(t, ok)
	assert.Equal(t, "Gravity pulls things down", got)

	st = State{History: history(
		"user", "tell me more about biology",
		"user", "again about physics",
	)}
	_, ok = LastAnswerFirstSentence(st)
	assert.False(t, ok)
	got, ok = SubjectKeyword(rs)(st)
	require.True(t, ok)
	assert.Equal(t, "physics", got)

	tr := NewTracker()
	assert.Equal(t, "physics", tr.ResolveTopic(tr.Classify("explain again"), "explain again", st))
}

func TestBuildOutgoingMessage(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, "Regarding fractions: tell me more",
		tr.BuildOutgoingMessage("tell me more", "fractions", tr.Classify("tell me more")))
	assert.Equal(t, "What is gravity?",
		tr.BuildOutgoingMessage("What is gravity?", "What is gravity?", tr.Classify("What is gravity?")))
	assert.Equal(t, "tell me more",
		tr.BuildOutgoingMessage("tell me more", "", tr.Classify("tell me more")))
}

func TestRecordTurnThenReadPersisted(t *testing.T) {
	store := memory.NewInMemoryStore(0)
	repo := NewRepository(store, testLogger())
	tr := NewTracker(WithPersister(repo), WithClock(fixedClock()))
	ctx := context.Background()
	key := StateKey("u1")

	st := tr.RecordTurn(ctx, key, State{}, RoleUser, "What is addition?")
	st = tr.RecordTurn(ctx, key, st, RoleAssistant, "Addition is combining numbers.")

	loaded, err := repo.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	last := loaded.History[len(loaded.History)-1]
	assert.Equal(t, st.History[1].Role, last.Role)
	assert.Equal(t, st.History[1].Text, last.Text)
	assert.True(t, st.History[1].Timestamp.Equal(last.Timestamp))
	assert.Equal(t, "What is addition?", loaded.LastQuestion)
	assert.Equal(t, "Addition is combining numbers.", loaded.LastResponse)
}

func TestRecordTurnRetentionDropsOldest(t *testing.T) {
	tr := NewTracker(WithClock(fixedClock()))
	ctx := context.Background()

	var st State
	for i := 0; i < DefaultHistoryLimit+4; i++ {
		st = tr.RecordTurn(ctx, "", st, RoleUser, fmt.Sprintf("q%d", i))
	}
	require.Len(t, st.History, DefaultHistoryLimit)
	assert.Equal(t, "q4", st.History[0].Text)
	assert.Equal(t, fmt.Sprintf("q%d", DefaultHistoryLimit+3), st.History[DefaultHistoryLimit-1].Text)
}

func TestRecordTurnDoesNotMutateInput(t *testing.T) {
	tr := NewTracker()
	in := State{History: make([]Turn, 1, 8)}
	in.History[0] = Turn{Role: RoleUser, Text: "first"}

	out := tr.RecordTurn(context.Background(), "", in, RoleAssistant, "reply")
	assert.Len(t, in.History, 1)
	assert.Empty(t, in.LastResponse)
	assert.Len(t, out.History, 2)
}

type failingPersister struct{ calls int }

func (p *failingPersister) Save(context.Context, string, State) error {
	p.calls++
	return errors.New("disk full")
}

func TestRecordTurnPersistFailureKeepsState(t *testing.T) {
	p := &failingPersister{}
	var hooked error
	tr := NewTracker(WithPersister(p), WithPersistErrorHook(func(err error) { hooked = err }))

	st := tr.RecordTurn(context.Background(), "k", State{}, RoleUser, "What is gravity?")
	assert.Equal(t, 1, p.calls)
	assert.Error(t, hooked)
	require.Len(t, st.History, 1)
	assert.Equal(t, "What is gravity?", st.LastQuestion)
}

func TestUpdateTopicPreservesTopicOnFollowUp(t *testing.T) {
	tr := NewTracker()
	st := State{CurrentTopic: "photosynthesis"}
	c := tr.Classify("tell me more")

	st = tr.RecordTurn(context.Background(), "", st, RoleUser, "tell me more")
	st = tr.UpdateTopicAfterResponse(st, c, "tell me more")
	assert.Equal(t, "photosynthesis", st.CurrentTopic)
}

func TestUpdateTopicIgnoresShortNewTopic(t *testing.T) {
	tr := NewTracker()
	st := tr.UpdateTopicAfterResponse(State{CurrentTopic: "cells"}, tr.Classify("ok"), "ok")
	assert.Equal(t, "cells", st.CurrentTopic)
}

func TestShortMultibyteNewTopicKeepsPriorTopic(t *testing.T) {
	tr := NewTracker()
	prior := State{CurrentTopic: "cells"}
	c := tr.Classify("Größe")
	require.True(t, c.IsNewTopic())

	assert.Equal(t, "cells", tr.ResolveTopic(c, "Größe", prior))
	st := tr.UpdateTopicAfterResponse(prior, c, "Größe")
	assert.Equal(t, "cells", st.CurrentTopic)

	longer := tr.UpdateTopicAfterResponse(prior, tr.Classify("Größen"), "Größen")
	assert.Equal(t, "Größen", longer.CurrentTopic)
}

// runTurn mirrors the caller's per-message flow.
func runTurn(t *testing.T, tr *Tracker, st State, text, reply string) (State, Classification, string, string) {
	t.Helper()
	ctx := context.Background()
	c := tr.Classify(text)
	topic := tr.ResolveTopic(c, text, st)
	out := tr.BuildOutgoingMessage(text, topic, c)
	st = tr.RecordTurn(ctx, "", st, RoleUser, text)
	st = tr.RecordTurn(ctx, "", st, RoleAssistant, reply)
	st = tr.UpdateTopicAfterResponse(st, c, text)
	return st, c, topic, out
}

func TestScenarioExplainAgainAfterAddition(t *testing.T) {
	tr := NewTracker()
	st := State{History: history("user", "What is addition?", "assistant", "Addition is combining numbers.")}

	st, c, topic, out := runTurn(t, tr, st, "explain again", "Let me try again.")
	assert.Equal(t, KindExplainAgain, c.Kind())
	assert.Equal(t, "What is addition?", topic)
	assert.Equal(t, "Regarding What is addition?: explain again", out)
	assert.Empty(t, st.CurrentTopic)
}

func TestScenarioExplainAgainWithStoredTopic(t *testing.T) {
	tr := NewTracker()
	st, _, _, _ := runTurn(t, tr, State{}, "What is addition?", "Addition is combining numbers.")
	require.Equal(t, "What is addition?", st.CurrentTopic)

	_, _, topic, out := runTurn(t, tr, st, "explain again", "Sure.")
	assert.Equal(t, "What is addition?", topic)
	assert.Equal(t, "Regarding What is addition?: explain again", out)
}

func TestScenarioExplainAgainEmptyHistory(t *testing.T) {
	tr := NewTracker()
	_, c, topic, out := runTurn(t, tr, State{}, "explain again", "Sure.")
	assert.Equal(t, KindExplainAgain, c.Kind())
	assert.Equal(t, "the previous concept", topic)
	assert.Equal(t, "Regarding the previous concept: explain again", out)
}

func TestScenarioNewTopicGravity(t *testing.T) {
	tr := NewTracker()
	st, c, _, out := runTurn(t, tr, State{}, "What is gravity?", "Gravity is a force.")
	assert.Equal(t, KindNewTopic, c.Kind())
	assert.Equal(t, "What is gravity?", out)
	assert.Equal(t, "What is gravity?", st.CurrentTopic)
}
