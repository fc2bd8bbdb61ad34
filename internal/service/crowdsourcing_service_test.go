package service

import (
	"sync"
	"testing"
	"time"

	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishedTask(t *testing.T, env *testEnv, minAnswers int, questionIDs ...uint) *model.CrowdsourcingTask {
	t.Helper()
	task, err := env.crowd.CreateTask(CreateTaskRequest{
		Title:                 "collect reference answers",
		MinAnswersPerQuestion: minAnswers,
		QuestionIDs:           questionIDs,
	}, 1)
	require.NoError(t, err)
	task, err = env.crowd.PublishTask(task.ID)
	require.NoError(t, err)
	return task
}

func submit(t *testing.T, env *testEnv, taskID, questionID uint, text string) *model.CrowdsourcingAnswer {
	t.Helper()
	a, err := env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: taskID, QuestionID: questionID, AnswerText: text}, nil)
	require.NoError(t, err)
	return a
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")

	task, err := env.crowd.CreateTask(CreateTaskRequest{Title: " photosynthesis ", QuestionIDs: []uint{q.ID}}, 3)
	require.NoError(t, err)
	assert.Equal(t, "photosynthesis", task.Title)
	assert.Equal(t, model.TaskDraft, task.Status)
	assert.Equal(t, model.TaskAnswerCollection, task.TaskType)
	assert.Equal(t, 3, task.MinAnswersPerQuestion)

	_, err = env.crowd.CreateTask(CreateTaskRequest{Title: "bad", QuestionIDs: []uint{q.ID + 50}}, 3)
	assert.ErrorIs(t, err, util.ErrNotFound)

	start := time.Now()
	end := start.Add(-time.Hour)
	_, err = env.crowd.CreateTask(CreateTaskRequest{Title: "bad window", StartTime: &start, EndTime: &end}, 3)
	assert.ErrorIs(t, err, util.ErrValidation)
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")

	empty, err := env.crowd.CreateTask(CreateTaskRequest{Title: "empty"}, 1)
	require.NoError(t, err)
	_, err = env.crowd.PublishTask(empty.ID)
	assert.ErrorIs(t, err, util.ErrValidation)

	task := publishedTask(t, env, 2, q.ID)
	assert.Equal(t, model.TaskPublished, task.Status)
	assert.NotNil(t, task.PublishedAt)

	_, err = env.crowd.PublishTask(task.ID)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	// 别名 cancelled 对应 closed
	closed, err := env.crowd.UpdateTaskStatus(task.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, model.TaskClosed, closed.Status)
	assert.NotNil(t, closed.CompletedAt)

	_, err = env.crowd.UpdateTaskStatus(task.ID, "ongoing")
	assert.ErrorIs(t, err, util.ErrInvalidState)

	_, err = env.crowd.UpdateTaskStatus(task.ID, "paused")
	assert.ErrorIs(t, err, util.ErrValidation)
}

func TestSubmitAnswerRequiresOpenTask(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	other := env.question(t, "Explain respiration.")

	draft, err := env.crowd.CreateTask(CreateTaskRequest{Title: "draft", QuestionIDs: []uint{q.ID}}, 1)
	require.NoError(t, err)
	_, err = env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: draft.ID, QuestionID: q.ID, AnswerText: "light to sugar"}, nil)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	task := publishedTask(t, env, 1, q.ID)

	_, err = env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: task.ID, QuestionID: other.ID, AnswerText: "oxygen"}, nil)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: task.ID, QuestionID: q.ID, AnswerText: "   "}, nil)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: task.ID + 99, QuestionID: q.ID, AnswerText: "light"}, nil)
	assert.ErrorIs(t, err, util.ErrNotFound)

	// 收集窗口结束后拒绝提交
	end := time.Now().Add(24 * time.Hour)
	windowed, err := env.crowd.CreateTask(CreateTaskRequest{Title: "windowed", EndTime: &end, QuestionIDs: []uint{q.ID}}, 1)
	require.NoError(t, err)
	_, err = env.crowd.PublishTask(windowed.ID)
	require.NoError(t, err)
	submit(t, env, windowed.ID, q.ID, "light")

	env.crowd.now = func() time.Time { return end.Add(time.Minute) }
	_, err = env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: windowed.ID, QuestionID: q.ID, AnswerText: "light"}, nil)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	_, err = env.crowd.UpdateTask(windowed.ID, UpdateTaskRequest{EndTime: &end})
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestApprovedAnswersCompleteTask(t *testing.T) {
	env := newTestEnv(t, nil)
	q1 := env.question(t, "Explain photosynthesis.")
	q2 := env.question(t, "Explain respiration.")
	task := publishedTask(t, env, 1, q1.ID, q2.ID)

	user := uint(42)
	a1, err := env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: task.ID, QuestionID: q1.ID, AnswerText: "Plants turn light into sugar."}, &user)
	require.NoError(t, err)
	require.NotNil(t, a1.UserID)
	a2 := submit(t, env, task.ID, q2.ID, "Cells burn sugar for energy.")

	quality := 4
	reviewed, err := env.crowd.ReviewAnswer(a1.ID, ReviewRequest{Approved: true, QualityScore: &quality}, 9)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, reviewed.ReviewStatus)

	got, err := env.crowd.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPublished, got.Status)

	_, err = env.crowd.ReviewAnswer(a2.ID, ReviewRequest{Approved: true}, 9)
	require.NoError(t, err)

	got, err = env.crowd.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)

	// 终态不能再审核
	_, err = env.crowd.ReviewAnswer(a2.ID, ReviewRequest{Approved: false}, 9)
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestReviewedAnswerIsImmutable(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 3, q.ID)
	a := submit(t, env, task.ID, q.ID, "Plants make sugar.")

	updated, err := env.crowd.UpdateAnswer(a.ID, "Plants make sugar from light.")
	require.NoError(t, err)
	assert.Equal(t, "Plants make sugar from light.", updated.AnswerText)

	bad := 6
	_, err = env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: true, QualityScore: &bad}, 9)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: false, Comment: "too short"}, 9)
	require.NoError(t, err)

	_, err = env.crowd.UpdateAnswer(a.ID, "changed")
	assert.ErrorIs(t, err, util.ErrInvalidState)
	assert.ErrorIs(t, env.crowd.DeleteAnswer(a.ID), util.ErrInvalidState)

	assert.ErrorIs(t, env.crowd.DeleteTask(task.ID), util.ErrInvalidState)
}

func TestBatchReviewReportsPerItem(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	a := submit(t, env, task.ID, q.ID, "Plants make sugar.")
	b := submit(t, env, task.ID, q.ID, "Light becomes chemical energy.")
	_, err := env.crowd.ReviewAnswer(b.ID, ReviewRequest{Approved: true}, 9)
	require.NoError(t, err)

	results := env.crowd.BatchReviewAnswers([]BatchReviewItem{
		{AnswerID: a.ID, ReviewRequest: ReviewRequest{Approved: true}},
		{AnswerID: b.ID, ReviewRequest: ReviewRequest{Approved: false}},
		{AnswerID: 999, ReviewRequest: ReviewRequest{Approved: true}},
	}, 9)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, util.KindInvalidState, results[1].Kind)
	assert.False(t, results[2].Success)
	assert.Equal(t, util.KindNotFound, results[2].Kind)

	stats, err := env.crowd.AnswerStats(q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.Approved)
}

func TestSelectAsStandardAnswerIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	pending := submit(t, env, task.ID, q.ID, "Plants make sugar.")
	approved := submit(t, env, task.ID, q.ID, "Plants convert light, water and CO2 into glucose.")
	_, err := env.crowd.ReviewAnswer(approved.ID, ReviewRequest{Approved: true}, 9)
	require.NoError(t, err)

	_, err = env.crowd.SelectAsStandardAnswer(pending.ID, 9, "")
	assert.ErrorIs(t, err, util.ErrInvalidState)

	first, err := env.crowd.SelectAsStandardAnswer(approved.ID, 9, "best coverage")
	require.NoError(t, err)
	assert.Equal(t, model.SourceCrowdsourced, first.SourceType)
	assert.Equal(t, approved.AnswerText, first.Content)
	assert.False(t, first.IsFinal)

	again, err := env.crowd.SelectAsStandardAnswer(approved.ID, 9, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	list, total, err := env.rubric.ListStandardAnswers(q.ID, string(model.SourceCrowdsourced), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	answers, _, err := env.crowd.ListAnswers(repository.AnswerFilter{TaskID: task.ID}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, answers, 2)
}

func TestConcurrentSelectionReturnsOneStandardAnswer(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	a := submit(t, env, task.ID, q.ID, "Plants convert light, water and CO2 into glucose.")
	_, err := env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: true}, 9)
	require.NoError(t, err)

	const callers = 8
	ids := make([]uint, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			standard, err := env.crowd.SelectAsStandardAnswer(a.ID, 9, "")
			errs[i] = err
			if err == nil {
				ids[i] = standard.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	_, total, err := env.rubric.ListStandardAnswers(q.ID, string(model.SourceCrowdsourced), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSelectionOfDeletedStandardAnswerIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	a := submit(t, env, task.ID, q.ID, "Plants make sugar from light.")
	_, err := env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: true}, 9)
	require.NoError(t, err)

	standard, err := env.crowd.SelectAsStandardAnswer(a.ID, 9, "")
	require.NoError(t, err)
	require.NoError(t, env.rubric.DeleteStandardAnswer(standard.ID))

	_, err = env.crowd.SelectAsStandardAnswer(a.ID, 9, "")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestContributorCannotReviewOwnAnswer(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	user := uint(42)
	a, err := env.crowd.SubmitAnswer(SubmitAnswerRequest{TaskID: task.ID, QuestionID: q.ID, AnswerText: "Plants make sugar."}, &user)
	require.NoError(t, err)

	_, err = env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: true}, user)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	got, err := env.crowd.GetAnswer(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, got.ReviewStatus)

	_, err = env.crowd.ReviewAnswer(a.ID, ReviewRequest{Approved: true}, 9)
	assert.NoError(t, err)
}

func TestCompareAnswers(t *testing.T) {
	env := newTestEnv(t, nil)
	q := env.question(t, "Explain photosynthesis.")
	task := publishedTask(t, env, 5, q.ID)
	a := submit(t, env, task.ID, q.ID, "plants make sugar from light")
	b := submit(t, env, task.ID, q.ID, "plants make sugar from light")

	cmp, err := env.crowd.CompareAnswers(a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, cmp.AnswerA)
	assert.InDelta(t, 1.0, cmp.Similarity, 1e-9)

	_, err = env.crowd.CompareAnswers(a.ID, 999)
	assert.ErrorIs(t, err, util.ErrNotFound)
}
