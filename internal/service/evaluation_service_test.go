package service

import (
	"context"
	"testing"

	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatistics(t *testing.T) {
	scored := func(v float64, missing bool) model.Evaluation {
		return model.Evaluation{Status: model.EvaluationScored, Score: &v, RequiredMissing: missing}
	}
	rows := []model.Evaluation{
		scored(0.1, true),
		scored(0.5, false),
		scored(0.9, false),
		scored(1.0, false),
		{Status: model.EvaluationFailed},
		{Status: model.EvaluationAwaitingReview},
	}

	stats := computeStatistics(7, 0.6, rows)
	assert.Equal(t, uint(7), stats.BatchID)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 4, stats.Scored)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.AwaitingReview)
	assert.Equal(t, 1, stats.RequiredMissingCount)
	assert.Equal(t, 2, stats.PassingCount)
	assert.InDelta(t, 0.5, stats.PassingRate, 1e-9)
	assert.InDelta(t, 0.625, stats.AverageScore, 1e-9)
	assert.InDelta(t, 0.1, stats.MinScore, 1e-9)
	assert.InDelta(t, 1.0, stats.MaxScore, 1e-9)

	counts := make([]int, 0, len(stats.Distribution))
	for _, b := range stats.Distribution {
		counts = append(counts, b.Count)
	}
	assert.Equal(t, []int{1, 0, 1, 0, 2}, counts)
	assert.Equal(t, "0.8-1.0", stats.Distribution[4].Range)
}

func TestComputeStatisticsEmpty(t *testing.T) {
	stats := computeStatistics(1, 0.6, nil)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AverageScore)
	assert.Zero(t, stats.PassingRate)
	assert.Len(t, stats.Distribution, 5)
}

func TestBatchStatisticsThresholdOverride(t *testing.T) {
	f := newBatchFixture(t, nil)
	b := f.createBatch(t, model.MethodAuto)
	f.run(t, b.ID, nil)

	stats, err := f.env.evaluations.BatchStatistics(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, stats.Threshold, 1e-9)
	assert.Equal(t, 1, stats.PassingCount)

	lenient := 0.01
	stats, err = f.env.evaluations.BatchStatistics(context.Background(), b.ID, &lenient)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PassingCount)

	strict := 1.0
	stats, err = f.env.evaluations.BatchStatistics(context.Background(), b.ID, &strict)
	require.NoError(t, err)
	assert.Zero(t, stats.PassingCount)

	_, err = f.env.evaluations.BatchStatistics(context.Background(), b.ID+100, nil)
	assert.ErrorIs(t, err, util.ErrNotFound)
}
