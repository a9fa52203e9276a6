package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedState is returned when a persisted blob cannot be decoded.
var ErrMalformedState = errors.New("malformed conversation state")

const snapshotSchema = `{
  "type": "object",
  "properties": {
    "lastTopic":    {"type": ["string", "null"]},
    "lastQuestion": {"type": ["string", "null"]},
    "lastResponse": {"type": ["string", "null"]},
    "conversationHistory": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["role", "text"],
        "properties": {
          "role":      {"type": "string"},
          "text":      {"type": "string"},
          "timestamp": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compiledSnapshotSchema = mustCompileSchema(snapshotSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile snapshot schema: %v", err))
	}
	return s
}

type snapshot struct {
	LastTopic           string         `json:"lastTopic"`
	LastQuestion        string         `json:"lastQuestion"`
	LastResponse        string         `json:"lastResponse"`
	ConversationHistory []snapshotTurn `json:"conversationHistory"`
}

type snapshotTurn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// EncodeState renders the persisted JSON form of st.
func EncodeState(st State) ([]byte, error) {
	snap := snapshot{
		LastTopic:           st.CurrentTopic,
		LastQuestion:        st.LastQuestion,
		LastResponse:        st.LastResponse,
		ConversationHistory: make([]snapshotTurn, 0, len(st.History)),
	}
	for _, t := range st.History {
		snap.ConversationHistory = append(snap.ConversationHistory, snapshotTurn{
			Role:      string(t.Role),
			Text:      t.Text,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation state: %w", err)
	}
	return out, nil
}

// DecodeState parses a persisted blob. Role labels are normalized; any
// structural problem yields ErrMalformedState.
func DecodeState(raw []byte) (State, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return State{}, fmt.Errorf("%w: empty blob", ErrMalformedState)
	}

	res, err := compiledSnapshotSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return State{}, fmt.Errorf("%w: %s", ErrMalformedState, strings.Join(msgs, "; "))
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	st := State{
		CurrentTopic: snap.LastTopic,
		LastQuestion: snap.LastQuestion,
		LastResponse: snap.LastResponse,
	}
	if len(snap.ConversationHistory) > 0 {
		st.History = make([]Turn, 0, len(snap.ConversationHistory))
	}
	for i, t := range snap.ConversationHistory {
		role, err := ParseRole(t.Role)
		if err != nil {
			return State{}, fmt.Errorf("%w: turn %d: %v", ErrMalformedState, i, err)
		}
		var ts time.Time
		if t.Timestamp != "" {
			ts, err = time.Parse(time.RFC3339Nano, t.Timestamp)
			if err != nil {
				return State{}, fmt.Errorf("%w: turn %d timestamp: %v", ErrMalformedState, i, err)
			}
		}
		st.History = append(st.History, Turn{Role: role, Text: t.Text, Timestamp: ts})
	}
	return st, nil
}
