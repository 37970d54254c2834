package turn

import (
	"slices"
	"testing"
)

func TestReveal(t *testing.T) {
	got := slices.Collect(Reveal("héllo", 0))
	want := []string{"h", "hé", "hél", "héll", "héllo"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	if n := len(slices.Collect(Reveal("", 0))); n != 0 {
		t.Fatalf("empty text should yield nothing, got %d", n)
	}
}

func TestRevealStopsWhenConsumerBreaks(t *testing.T) {
	var seen []string
	for prefix := range Reveal("abcdef", 0) {
		seen = append(seen, prefix)
		if len(seen) == 2 {
			break
		}
	}
	if !slices.Equal(seen, []string{"a", "ab"}) {
		t.Fatalf("unexpected prefixes %q", seen)
	}
}
