package draft

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeTags(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "dedupe case-insensitive first wins",
			in:   []string{"Reading", "reading", "OTHER", "  Cooking  "},
			want: []string{"Reading", "Cooking"},
		},
		{
			name: "sentinels stripped any case",
			in:   []string{"none", "None", "NONE", "music", "Other"},
			want: []string{"music"},
		},
		{
			name: "blank entries dropped",
			in:   []string{"", "   ", "art"},
			want: []string{"art"},
		},
		{
			name: "sentinel emerging from truncation stripped",
			in:   []string{"other" + strings.Repeat(" ", 35) + "x", "art"},
			want: []string{"art"},
		},
		{
			name: "order preserved",
			in:   []string{"c", "a", "b"},
			want: []string{"c", "a", "b"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeTags(tc.in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("NormalizeTags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeTagsLengthCap(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := NormalizeTags([]string{long})
	if len(got) != 1 {
		t.Fatalf("want 1 tag, got %d", len(got))
	}
	if n := len([]rune(got[0])); n > maxTagLen {
		t.Errorf("tag length = %d runes, want <= %d", n, maxTagLen)
	}
}

func TestNormalizeTagsCountCap(t *testing.T) {
	in := make([]string, 30)
	for i := range in {
		in[i] = strings.Repeat("a", i+1)
	}
	got := NormalizeTags(in)
	if len(got) != maxTags {
		t.Errorf("want %d tags, got %d", maxTags, len(got))
	}
}

func TestNormalizeTagsIdempotent(t *testing.T) {
	inputs := [][]string{
		{"Reading", "reading", "OTHER", "  Cooking  "},
		{strings.Repeat("Ü", 60), "short"},
		{"other" + strings.Repeat(" ", 35) + "x", "music"},
		{"none" + strings.Repeat(" ", 36) + "y", "music"},
		{"a", "b", "c", "A", "B"},
		nil,
	}
	for _, in := range inputs {
		once := NormalizeTags(in)
		twice := NormalizeTags(once)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("NormalizeTags not idempotent for %v (-once +twice):\n%s", in, diff)
		}
	}
}
