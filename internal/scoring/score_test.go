package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRubric() Rubric {
	return Rubric{KeyPoints: []KeyPoint{
		{Order: 1, Text: "water boils at 100 degrees celsius", Weight: 2, Type: Required},
		{Order: 2, Text: "at sea level", Weight: 1, Type: Required},
		{Order: 3, Text: "altitude lowers the boiling point", Weight: 1, Type: Bonus},
		{Order: 4, Text: "claims the boiling temperature never changes", Weight: 1, Type: Penalty},
	}}
}

func signals(matched ...int) map[int]Signal {
	out := make(map[int]Signal, len(matched))
	for _, o := range matched {
		out[o] = Signal{Matched: true, Similarity: 1}
	}
	return out
}

func TestScoreSignals(t *testing.T) {
	tests := []struct {
		name            string
		matched         []int
		wantScore       float64
		wantReqMissing  bool
		wantDenominator float64
	}{
		{
			name:            "all required and bonus",
			matched:         []int{1, 2, 3},
			wantScore:       1,
			wantDenominator: 4,
		},
		{
			name:            "required only",
			matched:         []int{1, 2},
			wantScore:       0.75,
			wantDenominator: 4,
		},
		{
			name:            "penalty subtracts",
			matched:         []int{1, 2, 4},
			wantScore:       0.5,
			wantDenominator: 4,
		},
		{
			name:            "one required missing keeps optional credit",
			matched:         []int{1, 3},
			wantScore:       0.25,
			wantReqMissing:  true,
			wantDenominator: 4,
		},
		{
			name:            "penalty floors at zero",
			matched:         []int{4},
			wantScore:       0,
			wantReqMissing:  true,
			wantDenominator: 4,
		},
		{
			name:            "nothing matched",
			matched:         nil,
			wantScore:       0,
			wantReqMissing:  true,
			wantDenominator: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ScoreSignals(sampleRubric(), signals(tt.matched...), DefaultOptions())
			assert.InDelta(t, tt.wantScore, res.Score, 1e-9)
			assert.Equal(t, tt.wantReqMissing, res.RequiredMissing)
			assert.InDelta(t, tt.wantDenominator, res.Denominator, 1e-9)
			assert.Len(t, res.Verdicts, 4)
		})
	}
}

func TestRequiredGatingNeverExceedsCeiling(t *testing.T) {
	// 加分点权重远大于必答点
	rubric := Rubric{KeyPoints: []KeyPoint{
		{Order: 1, Text: "core fact", Weight: 1, Type: Required},
		{Order: 2, Text: "extra a", Weight: 50, Type: Bonus},
		{Order: 3, Text: "extra b", Weight: 50, Type: Bonus},
	}}

	for _, ceiling := range []float64{0, 0.3, 0.5, 0.9} {
		res := ScoreSignals(rubric, signals(2, 3), Options{RequiredMissingCeiling: ceiling})
		assert.True(t, res.RequiredMissing)
		assert.LessOrEqual(t, res.Score, ceiling)
	}
}

func TestEmptyRubricScoresZero(t *testing.T) {
	res := ScoreSignals(Rubric{}, nil, DefaultOptions())
	assert.Zero(t, res.Score)
	assert.False(t, res.RequiredMissing)

	penaltyOnly := Rubric{KeyPoints: []KeyPoint{{Order: 1, Text: "wrong", Weight: 1, Type: Penalty}}}
	res = ScoreSignals(penaltyOnly, signals(1), DefaultOptions())
	assert.Zero(t, res.Score)
}

func TestScoreIsDeterministic(t *testing.T) {
	answer := "At sea level, water boils at 100 degrees Celsius. Higher altitude lowers the boiling point."
	matcher := NewOverlapMatcher(0.6)

	first := Score(answer, sampleRubric(), matcher, DefaultOptions())
	second := Score(answer, sampleRubric(), matcher, DefaultOptions())

	require.Equal(t, first, second)
	assert.InDelta(t, 1.0, first.Score, 1e-9)
	assert.False(t, first.RequiredMissing)
}

func TestScoreOrderIndependent(t *testing.T) {
	rubric := sampleRubric()
	reversed := Rubric{KeyPoints: make([]KeyPoint, len(rubric.KeyPoints))}
	for i, kp := range rubric.KeyPoints {
		reversed.KeyPoints[len(rubric.KeyPoints)-1-i] = kp
	}
	answer := "water boils at 100 degrees celsius"

	a := Score(answer, rubric, NewOverlapMatcher(0), DefaultOptions())
	b := Score(answer, reversed, NewOverlapMatcher(0), DefaultOptions())
	assert.Equal(t, a, b)
}

func TestScoreAlwaysNormalized(t *testing.T) {
	answers := []string{
		"",
		"water boils at 50 degrees",
		"water boils at 100 degrees celsius at sea level, altitude lowers the boiling point, water boils at 50 degrees",
		"completely unrelated text about cats",
	}
	for _, a := range answers {
		res := Score(a, sampleRubric(), NewOverlapMatcher(0.6), DefaultOptions())
		assert.GreaterOrEqual(t, res.Score, 0.0, a)
		assert.LessOrEqual(t, res.Score, 1.0, a)
	}
}

func TestImplicitRubric(t *testing.T) {
	ref := "First paragraph.\r\n\r\nSecond paragraph.\n\n\n\n  \n\nThird."
	r := ImplicitRubric(ref)

	require.Len(t, r.KeyPoints, 3)
	assert.True(t, r.Implicit)
	for i, kp := range r.KeyPoints {
		assert.Equal(t, i+1, kp.Order)
		assert.Equal(t, Required, kp.Type)
		assert.Equal(t, 1.0, kp.Weight)
	}
	assert.Equal(t, "Second paragraph.", r.KeyPoints[1].Text)
	require.NoError(t, r.Validate())
}

func TestRubricOrImplicit(t *testing.T) {
	explicit := []KeyPoint{{Order: 2, Text: "b", Weight: 1, Type: Bonus}, {Order: 1, Text: "a", Weight: 1, Type: Required}}
	r := RubricOrImplicit(explicit, "ignored")
	assert.False(t, r.Implicit)
	assert.Equal(t, 1, r.KeyPoints[0].Order)

	r = RubricOrImplicit(nil, "only paragraph")
	assert.True(t, r.Implicit)
	assert.Len(t, r.KeyPoints, 1)
}

func TestRubricValidate(t *testing.T) {
	tests := []struct {
		name    string
		rubric  Rubric
		wantErr bool
	}{
		{name: "valid", rubric: sampleRubric()},
		{
			name: "duplicate order",
			rubric: Rubric{KeyPoints: []KeyPoint{
				{Order: 1, Text: "a", Weight: 1, Type: Required},
				{Order: 1, Text: "b", Weight: 1, Type: Bonus},
			}},
			wantErr: true,
		},
		{
			name:    "negative weight",
			rubric:  Rubric{KeyPoints: []KeyPoint{{Order: 1, Text: "a", Weight: -1, Type: Bonus}}},
			wantErr: true,
		},
		{
			name:    "required zero weight",
			rubric:  Rubric{KeyPoints: []KeyPoint{{Order: 1, Text: "a", Weight: 0, Type: Required}}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			rubric:  Rubric{KeyPoints: []KeyPoint{{Order: 1, Text: "a", Weight: 1, Type: "optional"}}},
			wantErr: true,
		},
		{
			name:    "empty text",
			rubric:  Rubric{KeyPoints: []KeyPoint{{Order: 1, Weight: 1, Type: Bonus}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rubric.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRubric)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
