package parser

import (
	"strings"
	"testing"
	"time"
)

func parse(t *testing.T, input string) *Result {
	t.Helper()
	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return res
}

func TestParse_BasicMessage(t *testing.T) {
	res := parse(t, "12/01/23, 14:05 - Alice: Hello\n")

	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	msg := res.Messages[0]
	if msg.Author != "Alice" {
		t.Errorf("author = %q, want Alice", msg.Author)
	}
	if msg.Text != "Hello" {
		t.Errorf("text = %q, want Hello", msg.Text)
	}
	if msg.IsSystem {
		t.Error("expected authored message, got system")
	}
	want := time.Date(2023, 12, 1, 14, 5, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestParse_ContinuationMerging(t *testing.T) {
	input := "12/01/23, 14:05 - Alice: line one\nline two\nline three\n"
	res := parse(t, input)

	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 merged message, got %d", len(res.Messages))
	}
	want := "line one\nline two\nline three"
	if res.Messages[0].Text != want {
		t.Errorf("text = %q, want %q", res.Messages[0].Text, want)
	}
}

func TestParse_LeadingContinuationDropped(t *testing.T) {
	input := "orphan line with no header\n12/01/23, 14:05 - Alice: Hello\n"
	res := parse(t, input)

	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning for the orphan line, got %d", len(res.Warnings))
	}
	if res.Warnings[0].Line != 1 {
		t.Errorf("warning line = %d, want 1", res.Warnings[0].Line)
	}
}

func TestParse_SystemMessage(t *testing.T) {
	input := "12/01/23, 14:05 - Alice added Bob\n"
	res := parse(t, input)

	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	msg := res.Messages[0]
	if !msg.IsSystem {
		t.Error("expected system message")
	}
	if msg.Author != SystemAuthor {
		t.Errorf("author = %q, want %q", msg.Author, SystemAuthor)
	}
	if msg.Text != "Alice added Bob" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.HasMedia {
		t.Error("system messages must not carry media")
	}
}

func TestParse_MediaPlaceholder(t *testing.T) {
	input := "12/01/23, 14:05 - Alice: IMG-20231201-WA0001.jpg (file attached)\n"
	res := parse(t, input)

	msg := res.Messages[0]
	if !msg.HasMedia {
		t.Error("expected HasMedia")
	}
	if msg.MediaFilename != "IMG-20231201-WA0001.jpg" {
		t.Errorf("media filename = %q", msg.MediaFilename)
	}
}

func TestParse_MediaPlaceholderVariants(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"english omitted", "<Media omitted>"},
		{"ptbr attached", "VID-20231201-WA0044.mp4 (arquivo anexado)"},
		{"ptbr hidden", "<Mídia oculta>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := parse(t, "12/01/23, 14:05 - Alice: "+tc.text+"\n")
			if !res.Messages[0].HasMedia {
				t.Errorf("expected HasMedia for %q", tc.text)
			}
		})
	}
}

func TestParse_MediaPlaceholderOnContinuationLine(t *testing.T) {
	input := "12/01/23, 14:05 - Alice: check this out\nPTT-20231201-WA0007.opus (file attached)\n"
	res := parse(t, input)

	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	msg := res.Messages[0]
	if !msg.HasMedia {
		t.Error("expected HasMedia from continuation line")
	}
	if msg.MediaFilename != "PTT-20231201-WA0007.opus" {
		t.Errorf("media filename = %q", msg.MediaFilename)
	}
}

func TestParse_TwelveHourFormat(t *testing.T) {
	input := "12/01/23, 2:05 PM - Alice: afternoon\n12/01/23, 2:06 pm - Bob: lowercase meridiem\n"
	res := parse(t, input)

	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Messages))
	}
	want := time.Date(2023, 12, 1, 14, 5, 0, 0, time.UTC)
	if !res.Messages[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", res.Messages[0].Timestamp, want)
	}
}

func TestParse_MixedFormatsFatal(t *testing.T) {
	input := "12/01/23, 2:05 PM - Alice: twelve hour\n12/01/23, 14:06 - Bob: twenty-four hour\n"
	_, err := Parse(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected mixed-format error")
	}
	if !strings.Contains(err.Error(), "mixes timestamp formats") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_OrderingPreserved(t *testing.T) {
	// Timestamps deliberately non-monotonic; output must follow line order.
	input := strings.Join([]string{
		"12/01/23, 14:05 - Alice: first",
		"12/01/23, 13:00 - Bob: second but earlier",
		"12/01/23, 15:00 - Carol: third",
	}, "\n") + "\n"
	res := parse(t, input)

	if len(res.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(res.Messages))
	}
	for i, want := range []string{"first", "second but earlier", "third"} {
		if res.Messages[i].Text != want {
			t.Errorf("msg[%d] = %q, want %q", i, res.Messages[i].Text, want)
		}
	}
}

func TestParse_BlankLinesSkipped(t *testing.T) {
	input := "12/01/23, 14:05 - Alice: Hello\n\n\n12/01/23, 14:06 - Bob: Hi\n"
	res := parse(t, input)

	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Messages))
	}
	if res.Messages[0].Text != "Hello" {
		t.Errorf("blank lines must not join messages, got %q", res.Messages[0].Text)
	}
}

func TestParse_ColonInsideBody(t *testing.T) {
	res := parse(t, "12/01/23, 14:05 - Alice: note: remember this\n")

	msg := res.Messages[0]
	if msg.Author != "Alice" {
		t.Errorf("author = %q, want Alice", msg.Author)
	}
	if msg.Text != "note: remember this" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	res := parse(t, "")
	if len(res.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(res.Messages))
	}
}

func TestParse_RepeatedParseIsIdentical(t *testing.T) {
	input := "12/01/23, 14:05 - Alice: Hello\nmore text\n12/01/23, 14:06 - Bob: Hi\n"

	a := parse(t, input)
	b := parse(t, input)

	if len(a.Messages) != len(b.Messages) {
		t.Fatalf("message counts differ: %d vs %d", len(a.Messages), len(b.Messages))
	}
	for i := range a.Messages {
		if a.Messages[i] != b.Messages[i] {
			t.Errorf("msg[%d] differs between runs: %+v vs %+v", i, a.Messages[i], b.Messages[i])
		}
	}
}

func TestGroupNameFromFilename(t *testing.T) {
	cases := []struct {
		filename string
		hint     string
		want     string
	}{
		{"WhatsApp Chat with Team A.txt", "", "Team A"},
		{"Conversa do WhatsApp com Família.txt", "", "Família"},
		{"chat.txt", "Team B", "Team B"},
		{"chat.txt", "", FallbackGroupName},
	}

	for _, tc := range cases {
		if got := GroupNameFromFilename(tc.filename, tc.hint); got != tc.want {
			t.Errorf("GroupNameFromFilename(%q, %q) = %q, want %q", tc.filename, tc.hint, got, tc.want)
		}
	}
}
