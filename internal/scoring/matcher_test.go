package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "latin with punctuation", in: "Hello, World! 42", want: []string{"hello", "world", "42"}},
		{name: "han runes split", in: "北京是首都", want: []string{"北", "京", "是", "首", "都"}},
		{name: "mixed", in: "Go语言 v1.24", want: []string{"go", "语", "言", "v1", "24"}},
		{name: "empty", in: "   ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestOverlapMatcher(t *testing.T) {
	m := NewOverlapMatcher(0.6)

	tests := []struct {
		name        string
		answer      string
		kp          KeyPoint
		wantMatched bool
		wantNote    string
	}{
		{
			name:        "substring on token boundary",
			answer:      "The capital of France is Paris.",
			kp:          KeyPoint{Text: "capital of France is Paris"},
			wantMatched: true,
			wantNote:    "substring",
		},
		{
			name:        "partial word is not a substring match",
			answer:      "concatenate strings",
			kp:          KeyPoint{Text: "cat"},
			wantMatched: false,
			wantNote:    "overlap",
		},
		{
			name:        "token overlap above threshold",
			answer:      "Paris has been the French capital for centuries",
			kp:          KeyPoint{Text: "capital is Paris"},
			wantMatched: true,
			wantNote:    "overlap",
		},
		{
			name:        "example text matches",
			answer:      "it returns nil on success",
			kp:          KeyPoint{Text: "no error value", Example: "returns nil"},
			wantMatched: true,
			wantNote:    "substring",
		},
		{
			name:        "chinese substring",
			answer:      "中国的首都是北京。",
			kp:          KeyPoint{Text: "首都是北京"},
			wantMatched: true,
			wantNote:    "substring",
		},
		{
			name:        "empty answer",
			answer:      "",
			kp:          KeyPoint{Text: "anything"},
			wantMatched: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := m.Match(tt.answer, tt.kp)
			assert.Equal(t, tt.wantMatched, sig.Matched)
			assert.Equal(t, tt.wantNote, sig.Note)
			assert.GreaterOrEqual(t, sig.Similarity, 0.0)
			assert.LessOrEqual(t, sig.Similarity, 1.0)
		})
	}
}

func TestNewOverlapMatcherDefaults(t *testing.T) {
	assert.Equal(t, DefaultMatchThreshold, NewOverlapMatcher(0).Threshold)
	assert.Equal(t, DefaultMatchThreshold, NewOverlapMatcher(1.5).Threshold)
	assert.Equal(t, 0.8, NewOverlapMatcher(0.8).Threshold)
}

func TestCompare(t *testing.T) {
	d := Compare("the quick brown fox", "a quick red fox jumps")

	assert.Equal(t, []string{"fox", "quick"}, d.Shared)
	assert.Equal(t, []string{"brown"}, d.OnlyInA)
	assert.Equal(t, []string{"jumps", "red"}, d.OnlyInB)
	assert.InDelta(t, 2.0/5.0, d.Similarity, 1e-9)
	assert.Equal(t, d.LengthB-d.LengthA, d.LengthDelta)

	same := Compare("same text", "same text")
	assert.Equal(t, 1.0, same.Similarity)
	assert.Empty(t, same.OnlyInA)

	empty := Compare("", "")
	assert.Zero(t, empty.Similarity)
}
