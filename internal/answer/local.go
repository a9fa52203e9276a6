package answer

import (
	"context"
	"fmt"
	"strings"
)

// LocalAnswerer generates offline replies when the backend is unavailable.
type LocalAnswerer struct{}

func NewLocalAnswerer() *LocalAnswerer { return &LocalAnswerer{} }

type subjectSnippet struct {
	keyword string
	explain string
	example string
}

// Ordered so narrower subjects win over broad ones like "math".
var subjectSnippets = []subjectSnippet{
	{"addition", "Addition means putting amounts together to find how many there are in total.", "If you have 2 apples and get 3 more, 2 + 3 = 5 apples."},
	{"subtraction", "Subtraction means taking an amount away to see how many are left.", "If you have 7 stickers and give away 2, 7 - 2 = 5 are left."},
	{"multiplication", "Multiplication is repeated addition of equal groups.", "3 groups of 4 pencils is 4 + 4 + 4, which is 3 x 4 = 12."},
	{"division", "Division splits an amount into equal groups.", "12 cookies shared by 4 friends is 12 / 4 = 3 cookies each."},
	{"fraction", "A fraction names a part of a whole: the bottom number says how many equal parts, the top says how many you have.", "If a pizza has 8 slices and you eat 3, you ate 3/8 of it."},
	{"photosynthesis", "Photosynthesis is how plants use sunlight, water and carbon dioxide to make their own food and release oxygen.", "A leaf in the sun is a small factory turning light into sugar."},
	{"gravity", "Gravity is the pull that objects with mass have on each other.", "When you drop a ball, Earth's gravity pulls it to the ground."},
	{"physics", "Physics studies how matter and energy move and interact.", "Why a swing goes back and forth is a physics question."},
	{"chemistry", "Chemistry studies what substances are made of and how they change.", "Baking a cake changes the ingredients into something new."},
	{"biology", "Biology is the study of living things and how they work.", "Learning how your heart pumps blood is biology."},
	{"algebra", "Algebra uses letters to stand for unknown numbers so we can solve for them.", "In x + 3 = 5, x must be 2."},
	{"geometry", "Geometry is about shapes, sizes and the space they take up.", "A square has four equal sides and four right angles."},
	{"history", "History is the study of what happened in the past and why.", "Learning how people lived long ago helps us understand today."},
	{"grammar", "Grammar is the set of rules for putting words together into sentences.", "\"She runs fast\" follows the rule that the verb matches the subject."},
}

func (a *LocalAnswerer) Answer(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildLocalReply(req), Emotion: "encouraging", Source: SourceLocal}, nil
}

func buildLocalReply(req Request) string {
	topic := strings.TrimSpace(req.Context.CurrentTopic)
	text := strings.TrimSpace(req.Text)
	snippet, found := findSnippet(topic + " " + text)

	switch {
	case req.Context.IsExplainAgain:
		label := topic
		if label == "" {
			label = "that"
		}
		if found {
			return fmt.Sprintf("Let me explain %s another way. %s For example: %s", label, snippet.explain, snippet.example)
		}
		return fmt.Sprintf("Let me explain %s another way. Let's break it into small steps and go through them one at a time. Which part felt confusing?", label)
	case req.Context.IsFollowUp:
		if found {
			return fmt.Sprintf("Sure! Here's more: %s", snippet.example)
		}
		if topic != "" {
			return fmt.Sprintf("Good question about %s. Can you tell me which part you'd like to dig into?", topic)
		}
		return "Good question! Can you tell me a bit more about what you'd like to know?"
	default:
		if found {
			return snippet.explain + " " + snippet.example
		}
		if text == "" {
			return "I'm here to help. What would you like to learn about?"
		}
		return fmt.Sprintf("That's a great question: %q. I can't reach my full knowledge right now, but let's think it through together. What do you already know about it?", text)
	}
}

func findSnippet(s string) (subjectSnippet, bool) {
	lower := strings.ToLower(s)
	for _, sn := range subjectSnippets {
		if strings.Contains(lower, sn.keyword) {
			return sn, true
		}
	}
	return subjectSnippet{}, false
}
