package speech

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "   ", 50, nil},
		{"short", "Hello there.", 50, []string{"Hello there."}},
		{"packs sentences", "One. Two. Three.", 9, []string{"One. Two.", "Three."}},
		{"normalizes whitespace", "One.\n\n  Two.", 100, []string{"One. Two."}},
		{"clause split", "alpha beta, gamma delta; epsilon zeta.", 14, []string{"alpha beta,", "gamma delta;", "epsilon zeta."}},
		{"unbreakable run kept whole", "supercalifragilistic", 5, []string{"supercalifragilistic"}},
		{"quoted sentence end", `He said "stop." Then left.`, 16, []string{`He said "stop."`, "Then left."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("Split(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

// TestSplitProperties 随机文本下：拼接还原、长度上限、超长段不含内部边界。
func TestSplitProperties(t *testing.T) {
	words := []string{"a", "bb", "ccc", "dddd", "eeeee.", "ff,", "gg;", "hhhhhhhhhhhh", "i?", "j!", "kkkkkkkkkkkkkkkkkkkkkkkkkkkkkk"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(60)
		parts := make([]string, n)
		for j := range parts {
			parts[j] = words[rng.Intn(len(words))]
		}
		text := strings.Join(parts, strings.Repeat(" ", 1+rng.Intn(3)))
		max := 5 + rng.Intn(60)

		chunks := Split(text, max)
		if got, want := strings.Join(chunks, " "), strings.Join(strings.Fields(text), " "); got != want {
			t.Fatalf("round trip mismatch:\n got %q\nwant %q", got, want)
		}
		for _, c := range chunks {
			if c == "" {
				t.Fatalf("empty chunk in %q", chunks)
			}
			if utf8.RuneCountInString(c) <= max {
				continue
			}
			fields := strings.Fields(c)
			for _, w := range fields[:len(fields)-1] {
				if endsSentence(w) || endsClause(w) {
					t.Fatalf("oversized chunk %q (max %d) contains a boundary at %q", c, max, w)
				}
			}
		}
	}
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Thomas", Lang: "fr-FR", Local: true},
		{Name: "Google UK English", Lang: "en-GB"},
		{Name: "Remote US", Lang: "en-US"},
		{Name: "Local US", Lang: "en_US", Local: true},
		{Name: "Microsoft Aria Online", Lang: "en-US"},
		{Name: "Microsoft Hortense", Lang: "fr-FR"},
	}

	tests := []struct {
		name      string
		voices    []Voice
		locale    string
		preferred []string
		want      string
	}{
		{"preferred with matching language", voices, "en-US", []string{"Microsoft"}, "Microsoft Aria Online"},
		{"preferred order wins", voices, "en-US", []string{"Google", "Microsoft"}, "Google UK English"},
		{"local exact locale", voices, "en-US", []string{"Samantha"}, "Local US"},
		{"prefix match", voices[:2], "en-US", nil, "Google UK English"},
		{"first voice", voices[:1], "en-US", nil, "Thomas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectVoice(tt.voices, tt.locale, tt.preferred)
			if !ok || got.Name != tt.want {
				t.Fatalf("got %q ok=%v, want %q", got.Name, ok, tt.want)
			}
		})
	}

	if _, ok := SelectVoice(nil, "en-US", nil); ok {
		t.Fatalf("expected no voice for empty list")
	}
}
