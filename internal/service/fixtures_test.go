package service

import (
	"fmt"
	"testing"
	"time"

	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/pkg/database"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试独立的内存 sqlite
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.Models()...))
	return db
}

func testEvaluationConfig() config.EvaluationConfig {
	return config.EvaluationConfig{
		Workers:      2,
		UnitTimeout:  2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}.Normalize()
}

type testEnv struct {
	db *gorm.DB

	questions   *StandardQuestionService
	rubric      *RubricService
	crowd       *CrowdsourcingService
	datasets    *DatasetService
	llm         *LlmService
	batches     *EvaluationBatchService
	evaluations *EvaluationService
}

func newTestEnv(t *testing.T, judge Judge) *testEnv {
	t.Helper()
	db := newTestDB(t)

	questionRepo := repository.NewQuestionRepository(db)
	answerRepo := repository.NewStandardAnswerRepository(db)
	crowdRepo := repository.NewCrowdsourcingRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	llmRepo := repository.NewLlmRepository(db)
	batchRepo := repository.NewEvaluationBatchRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)

	batches := NewEvaluationBatchService(batchRepo, evalRepo, datasetRepo, answerRepo, llmRepo, questionRepo, testEvaluationConfig())
	batches.Judge = judge

	return &testEnv{
		db:          db,
		questions:   NewStandardQuestionService(questionRepo),
		rubric:      NewRubricService(answerRepo, questionRepo),
		crowd:       NewCrowdsourcingService(crowdRepo, questionRepo, answerRepo),
		datasets:    NewDatasetService(datasetRepo, questionRepo),
		llm:         NewLlmService(llmRepo, questionRepo, datasetRepo),
		batches:     batches,
		evaluations: NewEvaluationService(evalRepo, batchRepo, answerRepo, llmRepo, batches),
	}
}

func (e *testEnv) question(t *testing.T, content string) *model.StandardQuestion {
	t.Helper()
	q, err := e.questions.Create(QuestionRequest{Content: content, Category: "general"}, 1)
	require.NoError(t, err)
	return q
}

func required(order int, text string, weight float64) KeyPointInput {
	return KeyPointInput{PointText: text, PointOrder: order, PointWeight: &weight, PointType: string(model.PointRequired)}
}

func bonus(order int, text string, weight float64) KeyPointInput {
	return KeyPointInput{PointText: text, PointOrder: order, PointWeight: &weight, PointType: string(model.PointBonus)}
}

func (e *testEnv) standardAnswer(t *testing.T, questionID uint, content string, kps ...KeyPointInput) *model.StandardAnswer {
	t.Helper()
	a, err := e.rubric.CreateStandardAnswer(CreateStandardAnswerRequest{
		QuestionID: questionID,
		Content:    content,
		SourceType: string(model.SourceExpert),
		KeyPoints:  kps,
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) finalAnswer(t *testing.T, questionID uint, content string, kps ...KeyPointInput) *model.StandardAnswer {
	t.Helper()
	a := e.standardAnswer(t, questionID, content, kps...)
	final, err := e.rubric.SetFinal(a.ID, nil, "")
	require.NoError(t, err)
	return final
}

func (e *testEnv) publishedDataset(t *testing.T, name string, questionIDs ...uint) *model.DatasetVersion {
	t.Helper()
	ds, err := e.datasets.Create(CreateDatasetRequest{Name: name, QuestionIDs: questionIDs}, 1)
	require.NoError(t, err)
	ds, err = e.datasets.Publish(ds.ID)
	require.NoError(t, err)
	return ds
}

func (e *testEnv) llmModel(t *testing.T, name string) *model.LlmModel {
	t.Helper()
	m, err := e.llm.CreateModel(CreateModelRequest{Name: name, Version: "v1", Provider: "test"})
	require.NoError(t, err)
	return m
}

func (e *testEnv) llmAnswer(t *testing.T, modelID, questionID, datasetID uint, content string) *model.LlmAnswer {
	t.Helper()
	a, err := e.llm.SubmitAnswer(LlmAnswerRequest{
		ModelID:          modelID,
		QuestionID:       questionID,
		DatasetVersionID: datasetID,
		Content:          content,
	})
	require.NoError(t, err)
	return a
}
