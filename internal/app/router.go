package app

import (
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/middleware"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))

	curator := middleware.RoleMiddleware(model.Curator)

	a.registerQuestionRoutes(authGroup, c, curator)
	a.registerAnswerRoutes(authGroup, c, curator)
	a.registerCrowdsourcingRoutes(authGroup, c, curator)
	a.registerDatasetRoutes(authGroup, c, curator)
	a.registerModelRoutes(authGroup, c, curator)
	a.registerEvaluationRoutes(authGroup, c, curator)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)

		// 众包贡献者可匿名查看开放任务并提交答案
		public.GET("/crowdsourcing/tasks/:id", c.crowdsourcing.GetTask)
		public.GET("/crowdsourcing/tasks/:id/questions", c.crowdsourcing.ListTaskQuestions)
		public.POST("/crowdsourcing/answers", c.crowdsourcing.SubmitAnswer)
	}
}

func (a *App) registerQuestionRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	questions := group.Group("/questions")
	{
		questions.GET("", c.question.ListQuestions)
		questions.GET("/:id", c.question.GetQuestion)
		questions.GET("/:id/versions", c.question.ListVersions)

		questions.POST("", curator, c.question.CreateQuestion)
		questions.PUT("/:id", curator, c.question.UpdateQuestion)
		questions.DELETE("/:id", curator, c.question.DeleteQuestion)
		questions.POST("/:id/versions", curator, c.question.CreateVersion)
	}
}

func (a *App) registerAnswerRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	answers := group.Group("/answers")
	{
		answers.GET("", c.standardAnswer.ListAnswers)
		answers.GET("/question/:questionId", c.standardAnswer.ListByQuestion)
		answers.GET("/question/:questionId/final", c.standardAnswer.GetFinal)
		answers.GET("/:id", c.standardAnswer.GetAnswer)
		answers.GET("/:id/key-points", c.standardAnswer.ListKeyPoints)

		answers.POST("", curator, c.standardAnswer.CreateAnswer)
		answers.PUT("/:id", curator, c.standardAnswer.ReviseAnswer)
		answers.DELETE("/:id", curator, c.standardAnswer.DeleteAnswer)
		answers.POST("/:id/set-final", curator, c.standardAnswer.SetFinal)
		answers.POST("/:id/key-points", curator, c.standardAnswer.AddKeyPoint)
		answers.PUT("/:id/key-points/:kpId", curator, c.standardAnswer.UpdateKeyPoint)
		answers.DELETE("/:id/key-points/:kpId", curator, c.standardAnswer.DeleteKeyPoint)
	}
}

func (a *App) registerCrowdsourcingRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	crowd := group.Group("/crowdsourcing")

	tasks := crowd.Group("/tasks")
	{
		tasks.GET("", c.crowdsourcing.ListTasks)
		tasks.GET("/:id/answers", c.crowdsourcing.ListTaskAnswers)

		tasks.POST("", curator, c.crowdsourcing.CreateTask)
		tasks.PUT("/:id", curator, c.crowdsourcing.UpdateTask)
		tasks.DELETE("/:id", curator, c.crowdsourcing.DeleteTask)
		tasks.POST("/:id/publish", curator, c.crowdsourcing.PublishTask)
		tasks.POST("/:id/complete", curator, c.crowdsourcing.CompleteTask)
		tasks.POST("/:id/close", curator, c.crowdsourcing.CloseTask)
		tasks.PUT("/:id/status", curator, c.crowdsourcing.UpdateTaskStatus)
	}

	answers := crowd.Group("/answers")
	{
		answers.GET("/:id", c.crowdsourcing.GetAnswer)
		answers.PUT("/:id", middleware.RoleMiddleware(model.Curator, model.Contributor), c.crowdsourcing.UpdateAnswer)
		answers.DELETE("/:id", middleware.RoleMiddleware(model.Curator, model.Contributor), c.crowdsourcing.DeleteAnswer)

		answers.POST("/:id/review", curator, c.crowdsourcing.ReviewAnswer)
		answers.POST("/batch-review", curator, c.crowdsourcing.BatchReview)
		answers.POST("/:id/select", curator, c.crowdsourcing.SelectAnswer)
		answers.POST("/:id/rate", curator, c.crowdsourcing.RateAnswer)
		answers.POST("/compare", curator, c.crowdsourcing.CompareAnswers)
	}

	crowd.GET("/questions/:questionId/answers", c.crowdsourcing.ListQuestionAnswers)
	crowd.GET("/questions/:questionId/answers/stats", c.crowdsourcing.QuestionAnswerStats)
}

func (a *App) registerDatasetRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	datasets := group.Group("/datasets")
	{
		datasets.GET("", c.dataset.ListDatasets)
		datasets.GET("/:id", c.dataset.GetDataset)
		datasets.GET("/:id/questions", c.dataset.ListQuestions)

		datasets.POST("", curator, c.dataset.CreateDataset)
		datasets.PUT("/:id", curator, c.dataset.UpdateDataset)
		datasets.DELETE("/:id", curator, c.dataset.DeleteDataset)
		datasets.POST("/:id/publish", curator, c.dataset.PublishDataset)
		datasets.POST("/:id/unpublish", curator, c.dataset.UnpublishDataset)
		datasets.POST("/:id/questions", curator, c.dataset.AddQuestions)
		datasets.DELETE("/:id/questions/:questionId", curator, c.dataset.RemoveQuestion)
	}
}

func (a *App) registerModelRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	models := group.Group("/models")
	{
		models.GET("", c.llm.ListModels)
		models.GET("/:id", c.llm.GetModel)
		models.POST("", curator, c.llm.CreateModel)
		models.DELETE("/:id", curator, c.llm.DeleteModel)
	}

	answers := group.Group("/llm-answers")
	{
		answers.GET("", c.llm.ListAnswers)
		answers.GET("/:id", c.llm.GetAnswer)
		answers.POST("", curator, c.llm.SubmitAnswer)
		answers.POST("/bulk", curator, c.llm.SubmitAnswers)
		answers.DELETE("/:id", curator, c.llm.DeleteAnswer)
	}
}

func (a *App) registerEvaluationRoutes(group *gin.RouterGroup, c *controllers, curator gin.HandlerFunc) {
	batches := group.Group("/batches")
	{
		batches.GET("", c.batch.ListBatches)
		batches.GET("/:id", c.batch.GetBatch)
		batches.GET("/:id/ws", c.batch.WatchProgress)

		batches.POST("", curator, c.batch.CreateBatch)
		batches.PUT("/:id", curator, c.batch.UpdateBatch)
		batches.DELETE("/:id", curator, c.batch.DeleteBatch)
		batches.POST("/:id/start", curator, c.batch.StartBatch)
		batches.POST("/:id/cancel", curator, c.batch.CancelBatch)
		batches.POST("/:id/reset", curator, c.batch.ResetBatch)
	}

	evaluations := group.Group("/evaluations")
	{
		evaluations.GET("", c.evaluation.ListEvaluations)
		evaluations.GET("/comparison", c.evaluation.ModelComparison)
		evaluations.GET("/batch/:id/statistics", c.evaluation.BatchStatistics)
		evaluations.GET("/:id", c.evaluation.GetEvaluation)

		evaluations.POST("/manual", curator, c.evaluation.SubmitManual)
		evaluations.POST("/batch/:id/run", curator, c.batch.RunBatch)
		evaluations.DELETE("/:id", curator, c.evaluation.DeleteEvaluation)
	}
}
