package scoring

import "sort"

// Diff 两段答案的结构化对比
type Diff struct {
	Shared      []string `json:"shared"`
	OnlyInA     []string `json:"onlyInA"`
	OnlyInB     []string `json:"onlyInB"`
	Similarity  float64  `json:"similarity"`
	LengthA     int      `json:"lengthA"`
	LengthB     int      `json:"lengthB"`
	LengthDelta int      `json:"lengthDelta"`
}

// Compare 词级 Jaccard 对比，词表排序后输出稳定
func Compare(a, b string) Diff {
	setA, setB := tokenSet(a), tokenSet(b)
	d := Diff{
		Shared:  []string{},
		OnlyInA: []string{},
		OnlyInB: []string{},
		LengthA: len([]rune(a)),
		LengthB: len([]rune(b)),
	}
	d.LengthDelta = d.LengthB - d.LengthA

	for tok := range setA {
		if _, ok := setB[tok]; ok {
			d.Shared = append(d.Shared, tok)
		} else {
			d.OnlyInA = append(d.OnlyInA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			d.OnlyInB = append(d.OnlyInB, tok)
		}
	}
	sort.Strings(d.Shared)
	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)

	union := len(d.Shared) + len(d.OnlyInA) + len(d.OnlyInB)
	if union > 0 {
		d.Similarity = float64(len(d.Shared)) / float64(union)
	}
	return d
}
