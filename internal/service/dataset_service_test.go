package service

import (
	"fmt"
	"sync"
	"testing"

	"llm_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetPublishRules(t *testing.T) {
	env := newTestEnv(t, nil)
	q1 := env.question(t, "q1")
	q2 := env.question(t, "q2")

	empty, err := env.datasets.Create(CreateDatasetRequest{Name: "empty"}, 1)
	require.NoError(t, err)
	_, err = env.datasets.Publish(empty.ID)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = env.datasets.Create(CreateDatasetRequest{Name: "empty"}, 1)
	assert.ErrorIs(t, err, util.ErrValidation)

	ds, err := env.datasets.Create(CreateDatasetRequest{Name: "v1", QuestionIDs: []uint{q1.ID, q1.ID}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.QuestionCount)

	ds, err = env.datasets.AddQuestions(ds.ID, []uint{q2.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.QuestionCount)

	_, err = env.datasets.AddQuestions(ds.ID, []uint{q2.ID + 100})
	assert.ErrorIs(t, err, util.ErrNotFound)

	published, err := env.datasets.Publish(ds.ID)
	require.NoError(t, err)
	assert.True(t, published.IsPublished)
	assert.NotNil(t, published.ReleaseDate)

	_, err = env.datasets.AddQuestions(ds.ID, []uint{q1.ID})
	assert.ErrorIs(t, err, util.ErrInvalidState)
	_, err = env.datasets.RemoveQuestion(ds.ID, q1.ID)
	assert.ErrorIs(t, err, util.ErrInvalidState)
	assert.ErrorIs(t, env.datasets.Delete(ds.ID), util.ErrInvalidState)

	unpublished, err := env.datasets.Unpublish(ds.ID)
	require.NoError(t, err)
	assert.False(t, unpublished.IsPublished)

	ds, err = env.datasets.RemoveQuestion(ds.ID, q1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.QuestionCount)

	_, err = env.datasets.RemoveQuestion(ds.ID, q1.ID)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestDatasetDerivedFromBaseVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	q1 := env.question(t, "q1")
	q2 := env.question(t, "q2")
	base := env.publishedDataset(t, "base", q1.ID)

	derived, err := env.datasets.Create(CreateDatasetRequest{Name: "derived", BaseVersionID: &base.ID, QuestionIDs: []uint{q1.ID, q2.ID}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, derived.QuestionCount)

	questions, err := env.datasets.Questions(derived.ID)
	require.NoError(t, err)
	assert.Len(t, questions, 2)

	missing := base.ID + 100
	_, err = env.datasets.Create(CreateDatasetRequest{Name: "orphan", BaseVersionID: &missing}, 1)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestDatasetReferencedByBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "q1")
	ds := env.publishedDataset(t, "v1", q.ID)
	m := env.llmModel(t, "model-a")

	_, err := env.batches.CreateBatch(CreateBatchRequest{Name: "run", ModelID: m.ID, DatasetVersionID: ds.ID}, 1)
	require.NoError(t, err)

	_, err = env.datasets.Unpublish(ds.ID)
	assert.ErrorIs(t, err, util.ErrConflict)

	got, err := env.datasets.Get(ds.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
}

func TestPublishedDatasetMembershipIsFrozen(t *testing.T) {
	env := newTestEnv(t, nil)
	seed := env.question(t, "seed")
	extra := make([]uint, 0, 8)
	for i := 0; i < 8; i++ {
		extra = append(extra, env.question(t, fmt.Sprintf("extra %d", i)).ID)
	}
	ds, err := env.datasets.Create(CreateDatasetRequest{Name: "racing", QuestionIDs: []uint{seed.ID}}, 1)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		published int
	)
	for _, qid := range extra {
		wg.Add(1)
		go func(qid uint) {
			defer wg.Done()
			_, err := env.datasets.AddQuestions(ds.ID, []uint{qid})
			if err != nil {
				assert.ErrorIs(t, err, util.ErrInvalidState)
			}
		}(qid)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := env.datasets.Publish(ds.ID)
		if assert.NoError(t, err) {
			published = v.QuestionCount
		}
	}()
	wg.Wait()

	// 发布后的题目集合不再变化
	questions, err := env.datasets.Questions(ds.ID)
	require.NoError(t, err)
	assert.Len(t, questions, published)
	got, err := env.datasets.Get(ds.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
	assert.Equal(t, published, got.QuestionCount)
}

func TestUnpublishRacingBatchCreation(t *testing.T) {
	for i := 0; i < 5; i++ {
		env := newTestEnv(t, nil)
		q := env.question(t, "q1")
		ds := env.publishedDataset(t, "v1", q.ID)
		m := env.llmModel(t, "model-a")

		var (
			wg                 sync.WaitGroup
			batchErr, unpubErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, batchErr = env.batches.CreateBatch(CreateBatchRequest{Name: "run", ModelID: m.ID, DatasetVersionID: ds.ID}, 1)
		}()
		go func() {
			defer wg.Done()
			_, unpubErr = env.datasets.Unpublish(ds.ID)
		}()
		wg.Wait()

		got, err := env.datasets.Get(ds.ID)
		require.NoError(t, err)
		refs, err := env.datasets.Repo.ReferencingBatches(ds.ID)
		require.NoError(t, err)

		// 恰好一方成功，且不会出现引用未发布数据集的批次
		if batchErr == nil {
			assert.ErrorIs(t, unpubErr, util.ErrConflict)
			assert.True(t, got.IsPublished)
			assert.Equal(t, int64(1), refs)
		} else {
			assert.ErrorIs(t, batchErr, util.ErrInvalidState)
			assert.NoError(t, unpubErr)
			assert.False(t, got.IsPublished)
			assert.Zero(t, refs)
		}
	}
}
