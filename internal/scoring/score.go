package scoring

import "math"

// DefaultRequiredMissingCeiling 缺少必答点时的分数上限
const DefaultRequiredMissingCeiling = 0.5

type Options struct {
	// 超出 [0,1] 时使用默认值
	RequiredMissingCeiling float64
}

func (o Options) ceiling() float64 {
	if o.RequiredMissingCeiling < 0 || o.RequiredMissingCeiling > 1 {
		return DefaultRequiredMissingCeiling
	}
	return o.RequiredMissingCeiling
}

func DefaultOptions() Options {
	return Options{RequiredMissingCeiling: DefaultRequiredMissingCeiling}
}

// Verdict 得分点及其判定
type Verdict struct {
	KeyPoint
	Signal
}

// Result 一次评分的结果
type Result struct {
	Score           float64   `json:"score"`
	RequiredMissing bool      `json:"requiredMissing"`
	Denominator     float64   `json:"denominator"`
	MatchedRequired float64   `json:"matchedRequired"`
	MatchedBonus    float64   `json:"matchedBonus"`
	MatchedPenalty  float64   `json:"matchedPenalty"`
	Verdicts        []Verdict `json:"verdicts"`
}

func (r Result) Passed(threshold float64) bool {
	return r.Score >= threshold
}

// Score 用 matcher 逐个判定得分点后汇总
func Score(answer string, rubric Rubric, matcher Matcher, opts Options) Result {
	rubric = rubric.Sorted()
	signals := make(map[int]Signal, len(rubric.KeyPoints))
	for _, kp := range rubric.KeyPoints {
		signals[kp.Order] = matcher.Match(answer, kp)
	}
	return aggregate(rubric, signals, opts)
}

// ScoreSignals 使用外部给出的判定（按序号），缺失的得分点视为未命中
func ScoreSignals(rubric Rubric, signals map[int]Signal, opts Options) Result {
	return aggregate(rubric.Sorted(), signals, opts)
}

// aggregate 分母为必答点与加分点权重之和，扣分点不计入
func aggregate(rubric Rubric, signals map[int]Signal, opts Options) Result {
	res := Result{Verdicts: make([]Verdict, 0, len(rubric.KeyPoints))}
	allRequired := true
	for _, kp := range rubric.KeyPoints {
		sig := signals[kp.Order]
		res.Verdicts = append(res.Verdicts, Verdict{KeyPoint: kp, Signal: sig})
		switch kp.Type {
		case Required:
			res.Denominator += kp.Weight
			if sig.Matched {
				res.MatchedRequired += kp.Weight
			} else {
				allRequired = false
			}
		case Bonus:
			res.Denominator += kp.Weight
			if sig.Matched {
				res.MatchedBonus += kp.Weight
			}
		case Penalty:
			if sig.Matched {
				res.MatchedPenalty += kp.Weight
			}
		}
	}

	if res.Denominator <= 0 {
		res.RequiredMissing = !allRequired
		return res
	}

	if allRequired {
		res.Score = clamp((res.MatchedRequired + res.MatchedBonus - res.MatchedPenalty) / res.Denominator)
		return res
	}

	res.RequiredMissing = true
	partial := clamp((res.MatchedBonus - res.MatchedPenalty) / res.Denominator)
	res.Score = math.Min(partial, opts.ceiling())
	return res
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
