package service

import (
	"sync"
	"testing"

	"llm_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFinalKeepsSingleFinalPerQuestion(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "What is the capital of France?")

	first := env.standardAnswer(t, q.ID, "Paris.")
	second := env.standardAnswer(t, q.ID, "The capital of France is Paris.")

	_, err := env.rubric.SetFinal(first.ID, nil, "")
	require.NoError(t, err)
	actor := uint(7)
	final, err := env.rubric.SetFinal(second.ID, &actor, "more complete")
	require.NoError(t, err)
	assert.True(t, final.IsFinal)
	assert.Equal(t, "more complete", final.SelectionReason)
	require.NotNil(t, final.SelectedBy)
	assert.Equal(t, actor, *final.SelectedBy)

	n, err := env.rubric.AnswerRepo.CountFinal(q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	prev, err := env.rubric.GetStandardAnswer(first.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsFinal)

	got, err := env.rubric.GetFinalAnswer(q.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// 重复设置同一答案是幂等的
	_, err = env.rubric.SetFinal(second.ID, nil, "")
	require.NoError(t, err)
	n, err = env.rubric.AnswerRepo.CountFinal(q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConcurrentSetFinalKeepsOneFinal(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "What is the capital of France?")
	candidates := []uint{
		env.standardAnswer(t, q.ID, "Paris.").ID,
		env.standardAnswer(t, q.ID, "The capital of France is Paris.").ID,
		env.standardAnswer(t, q.ID, "Paris, on the Seine.").ID,
	}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, id := range candidates {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				_, err := env.rubric.SetFinal(id, nil, "")
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	n, err := env.rubric.AnswerRepo.CountFinal(q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	final, err := env.rubric.GetFinalAnswer(q.ID)
	require.NoError(t, err)
	assert.True(t, final.IsFinal)
	assert.Contains(t, candidates, final.ID)
}

func TestDeleteFinalAnswerClearsIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Who wrote Hamlet?")
	a := env.finalAnswer(t, q.ID, "William Shakespeare")

	require.NoError(t, env.rubric.DeleteStandardAnswer(a.ID))

	_, err := env.rubric.GetFinalAnswer(q.ID)
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = env.rubric.SetFinal(a.ID, nil, "")
	assert.ErrorIs(t, err, util.ErrConflict)
}

func TestCreateStandardAnswerValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Why is the sky blue?")

	tests := []struct {
		name string
		req  CreateStandardAnswerRequest
		want error
	}{
		{
			name: "empty content",
			req:  CreateStandardAnswerRequest{QuestionID: q.ID, Content: "  "},
			want: util.ErrValidation,
		},
		{
			name: "unknown source type",
			req:  CreateStandardAnswerRequest{QuestionID: q.ID, Content: "Rayleigh scattering", SourceType: "forum"},
			want: util.ErrValidation,
		},
		{
			name: "missing question",
			req:  CreateStandardAnswerRequest{QuestionID: q.ID + 100, Content: "Rayleigh scattering"},
			want: util.ErrNotFound,
		},
		{
			name: "duplicate point order",
			req: CreateStandardAnswerRequest{QuestionID: q.ID, Content: "Rayleigh scattering", KeyPoints: []KeyPointInput{
				required(1, "scattering", 1),
				bonus(1, "shorter wavelengths", 1),
			}},
			want: util.ErrValidation,
		},
		{
			name: "required point without weight",
			req: CreateStandardAnswerRequest{QuestionID: q.ID, Content: "Rayleigh scattering", KeyPoints: []KeyPointInput{
				required(1, "scattering", 0),
			}},
			want: util.ErrValidation,
		},
		{
			name: "unknown point type",
			req: CreateStandardAnswerRequest{QuestionID: q.ID, Content: "Rayleigh scattering", KeyPoints: []KeyPointInput{
				{PointText: "scattering", PointOrder: 1, PointType: "extra"},
			}},
			want: util.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.rubric.CreateStandardAnswer(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReviseAndKeyPointMutationsBumpVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Name two primary colors.")
	a := env.standardAnswer(t, q.ID, "Red and blue.", required(1, "red", 1))
	assert.Equal(t, 1, a.Version)

	content := "Red and blue are primary colors."
	revised, err := env.rubric.ReviseStandardAnswer(a.ID, ReviseStandardAnswerRequest{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	assert.Equal(t, content, revised.Content)
	require.Len(t, revised.KeyPoints, 1)

	kp, err := env.rubric.AddKeyPoint(a.ID, required(2, "blue", 1))
	require.NoError(t, err)
	assert.NotZero(t, kp.ID)

	_, err = env.rubric.AddKeyPoint(a.ID, bonus(2, "yellow", 1))
	assert.ErrorIs(t, err, util.ErrValidation)

	updated, err := env.rubric.UpdateKeyPoint(a.ID, kp.ID, bonus(3, "blue", 0.5))
	require.NoError(t, err)
	assert.Equal(t, 3, updated.PointOrder)

	require.NoError(t, env.rubric.DeleteKeyPoint(a.ID, kp.ID))
	assert.ErrorIs(t, env.rubric.DeleteKeyPoint(a.ID, kp.ID), util.ErrNotFound)

	got, err := env.rubric.GetStandardAnswer(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Version)
	require.Len(t, got.KeyPoints, 1)
	assert.Equal(t, "red", got.KeyPoints[0].PointText)

	replaced := []KeyPointInput{required(1, "red", 2), required(2, "blue", 2)}
	revised, err = env.rubric.ReviseStandardAnswer(a.ID, ReviseStandardAnswerRequest{KeyPoints: &replaced})
	require.NoError(t, err)
	assert.Equal(t, 6, revised.Version)
	assert.Len(t, revised.KeyPoints, 2)
}

func TestCreateVersionMovesLatestFlag(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "What is 2 + 2?")

	v2, err := env.questions.CreateVersion(q.ID, QuestionRequest{Content: "What is two plus two?"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	require.NotNil(t, v2.OriginalID)
	assert.Equal(t, q.ID, *v2.OriginalID)

	v3, err := env.questions.CreateVersion(v2.ID, QuestionRequest{Difficulty: "easy"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
	assert.Equal(t, "What is two plus two?", v3.Content)

	versions, err := env.questions.ListVersions(q.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	latest := 0
	for _, v := range versions {
		if v.IsLatest {
			latest++
			assert.Equal(t, v3.ID, v.ID)
		}
	}
	assert.Equal(t, 1, latest)

	_, err = env.questions.CreateVersion(q.ID, QuestionRequest{Difficulty: "impossible"}, 1)
	assert.ErrorIs(t, err, util.ErrValidation)
}
