package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "My mom's email is mom@example.com, call +1 (555) 123-9876, card 4242 4242 4242 4242, ssn 123-45-6789."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]", "[REDACTED_SSN]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "mom@example.com") {
		t.Fatalf("email leaked: %q", out)
	}
}

func TestRedactPIILeavesLessonTextAlone(t *testing.T) {
	inputs := []string{
		"What is 12 + 30? Explain fractions like 3/8 again.",
		"What is 100 - 25 - 10?",
		"Solve (12 - 4) - (3 - 1)",
		"1000 - 999 = 1",
		"Is 123456 - 654321 - 111111 - 222222 negative?",
		"The war lasted from 1939-1945.",
	}
	for _, input := range inputs {
		out, changed := RedactPII(input)
		if changed || out != input {
			t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", input, out, changed)
		}
	}
}

func TestRedactPIIPhoneShapes(t *testing.T) {
	inputs := []string{
		"call me at 555-123-4567",
		"call me at 555.123.4567",
		"call me at (555) 123-4567",
		"call me at +44 20 7946 0958",
	}
	for _, input := range inputs {
		out, changed := RedactPII(input)
		if !changed || out != "call me at [REDACTED_PHONE]" {
			t.Fatalf("RedactPII(%q) = %q, %v; want phone redacted", input, out, changed)
		}
	}
}
