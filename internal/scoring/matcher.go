package scoring

import (
	"strings"
	"unicode"
)

// Signal 单个得分点的命中判定
type Signal struct {
	Matched    bool    `json:"matched"`
	Similarity float64 `json:"similarity"`
	Note       string  `json:"note,omitempty"`
}

// Matcher 判断模型回答是否覆盖得分点
type Matcher interface {
	Match(answer string, kp KeyPoint) Signal
}

// DefaultMatchThreshold 词重合率达到该值即视为命中
const DefaultMatchThreshold = 0.6

// OverlapMatcher 先做归一化子串包含，再看词重合率。中日韩字符逐字成词
type OverlapMatcher struct {
	Threshold float64
}

// NewOverlapMatcher 阈值非正时使用默认值
func NewOverlapMatcher(threshold float64) OverlapMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMatchThreshold
	}
	return OverlapMatcher{Threshold: threshold}
}

func (m OverlapMatcher) Match(answer string, kp KeyPoint) Signal {
	haystack := normalize(answer)
	if haystack == "" {
		return Signal{}
	}
	for _, candidate := range []string{kp.Text, kp.Example} {
		needle := normalize(candidate)
		if needle != "" && strings.Contains(" "+haystack+" ", " "+needle+" ") {
			return Signal{Matched: true, Similarity: 1, Note: "substring"}
		}
	}

	answerTokens := tokenSet(answer)
	best := overlap(tokenSet(kp.Text), answerTokens)
	if kp.Example != "" {
		if o := overlap(tokenSet(kp.Example), answerTokens); o > best {
			best = o
		}
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return Signal{Matched: best >= threshold, Similarity: best, Note: "overlap"}
}

func overlap(needle, haystack map[string]struct{}) float64 {
	if len(needle) == 0 {
		return 0
	}
	hit := 0
	for tok := range needle {
		if _, ok := haystack[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(needle))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "to": {}, "in": {}, "on": {}, "and": {}, "or": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "it": {}, "for": {}, "with": {}, "as": {}, "by": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {},
}

// Tokenize 转小写并切词，汉字、假名、谚文每个字符单独成词
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

func normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
