package service

import (
	"context"
	"os"
	"strings"
	"testing"

	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localStorage(t *testing.T) *StorageService {
	t.Helper()
	return NewStorageService(&config.Config{Storage: config.StorageConfig{Type: "local", LocalPath: t.TempDir()}})
}

func TestLocalRationaleStorage(t *testing.T) {
	s := localStorage(t)
	ctx := context.Background()

	ref, err := s.SaveRationale(ctx, 3, "the answer names Paris")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "local:rationales/3/"))

	text, err := s.LoadRationale(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "the answer names Paris", text)

	require.NoError(t, s.DeleteRationale(ctx, ref))
	_, err = s.LoadRationale(ctx, ref)
	assert.True(t, os.IsNotExist(err))
	// 重复删除不报错
	assert.NoError(t, s.DeleteRationale(ctx, ref))

	_, err = s.LoadRationale(ctx, "minio:rationales/3/x.txt")
	assert.Error(t, err)
	_, err = s.LoadRationale(ctx, "local:../etc/passwd")
	assert.Error(t, err)
}

func TestLongRationaleIsStoredAsArtifact(t *testing.T) {
	long := strings.Repeat("detailed reasoning ", 40)
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error) {
		v, err := matchAll(ctx, req)
		if err != nil {
			return nil, err
		}
		v.Rationale = long
		return v, nil
	})
	f := newBatchFixture(t, judge)
	storage := localStorage(t)
	f.env.batches.Storage = storage
	f.env.evaluations.Storage = storage
	cfg := testEvaluationConfig()
	cfg.RationaleInlineLimit = 64
	f.env.batches.UpdateEvaluationConfig(cfg)

	b := f.createBatch(t, model.MethodJudgeModel)
	f.run(t, b.ID, nil)

	rows := f.evaluations(t, b.ID)
	require.Len(t, rows, 2)
	row := rows[0]
	assert.NotEmpty(t, row.RationaleRef)
	assert.Less(t, len(row.Comments), len(long))

	detail, err := f.env.evaluations.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, long, detail.Rationale)

	require.NoError(t, f.env.evaluations.Delete(context.Background(), row.ID))
	_, err = storage.LoadRationale(context.Background(), row.RationaleRef)
	assert.Error(t, err)
}
