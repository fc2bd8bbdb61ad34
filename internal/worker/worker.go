package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeRunBatch 执行评测批次的队列任务
const TypeRunBatch = "evaluation:run_batch"

type runBatchPayload struct {
	BatchID uint `json:"batchId"`
}

// Client 投递评测批次任务，实现 service.BatchEnqueuer
type Client struct {
	Asynq *asynq.Client
	Queue string
}

func NewClient(redisAddr, password string, db int) *Client {
	return &Client{
		Asynq: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: password, DB: db}),
		Queue: "default",
	}
}

func (c *Client) EnqueueBatch(ctx context.Context, batchID uint) error {
	payload, err := json.Marshal(runBatchPayload{BatchID: batchID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeRunBatch, payload)
	// 批次状态机已保证幂等，失败由批次自身记录，不让队列重试
	info, err := c.Asynq.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Queue(c.Queue))
	if err != nil {
		return err
	}
	logger.Log.Info("评测批次已入队", zap.Uint("batchId", batchID), zap.String("taskId", info.ID))
	return nil
}

func (c *Client) Close() error {
	return c.Asynq.Close()
}

// Server 消费评测批次任务
type Server struct {
	Batches *service.EvaluationBatchService
	srv     *asynq.Server
}

func NewServer(redisAddr, password string, db, concurrency int, batches *service.EvaluationBatchService) *Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: password, DB: db},
		asynq.Config{Concurrency: concurrency},
	)
	return &Server{Batches: batches, srv: srv}
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRunBatch, s.handleRunBatch)
	return mux
}

func (s *Server) handleRunBatch(ctx context.Context, t *asynq.Task) error {
	var p runBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeRunBatch, err, asynq.SkipRetry)
	}
	logger.Log.Info("开始执行评测批次", zap.Uint("batchId", p.BatchID))
	return s.Batches.Execute(ctx, p.BatchID)
}

// Run 阻塞直到收到退出信号
func (s *Server) Run() error {
	return s.srv.Run(s.mux())
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
