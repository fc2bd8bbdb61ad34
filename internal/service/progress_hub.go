package service

import (
	"context"
	"encoding/json"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/pkg/logger"
	"llm_eval_backend/pkg/monitoring"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	progressWriteWait  = 10 * time.Second
	progressPongWait   = 60 * time.Second
	progressPingPeriod = (progressPongWait * 9) / 10
	progressSendBuffer = 64
	progressChannel    = "llm-eval:batch-progress"
)

// 进度事件类型
const (
	ProgressSnapshot = "SNAPSHOT"
	ProgressUnitDone = "UNIT_DONE"
	ProgressFinished = "BATCH_FINISHED"
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressEvent 推送给订阅者的批次进度
type ProgressEvent struct {
	Type    string            `json:"type"`
	BatchID uint              `json:"batchId"`
	Status  model.BatchStatus `json:"status,omitempty"`
	Done    int               `json:"done"`
	Total   int               `json:"total"`
	// 单元事件
	LlmAnswerID uint                   `json:"llmAnswerId,omitempty"`
	UnitStatus  model.EvaluationStatus `json:"unitStatus,omitempty"`
	Score       *float64               `json:"score,omitempty"`
	// 结束事件
	Metrics *model.BatchMetrics `json:"metrics,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

type progressClient struct {
	hub     *ProgressHub
	conn    *websocket.Conn
	send    chan []byte
	batchID uint
}

// ProgressHub 按批次分组的 websocket 订阅。配置 Redis 时经 pub/sub 转发，worker 进程产生的进度也能送达
type ProgressHub struct {
	Redis *redis.Client

	mu      sync.RWMutex
	clients map[uint]map[*progressClient]struct{}
}

func NewProgressHub(rdb *redis.Client) *ProgressHub {
	return &ProgressHub{
		Redis:   rdb,
		clients: make(map[uint]map[*progressClient]struct{}),
	}
}

// Run 订阅 Redis 频道直到 ctx 结束，未配置 Redis 时直接返回
func (h *ProgressHub) Run(ctx context.Context) {
	if h == nil || h.Redis == nil {
		return
	}
	pubsub := h.Redis.Subscribe(ctx, progressChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Log.Warn("进度消息解析失败", zap.Error(err))
				continue
			}
			h.deliver(evt.BatchID, []byte(msg.Payload))
		}
	}
}

// Publish 广播一个进度事件，nil hub 忽略
func (h *ProgressHub) Publish(evt ProgressEvent) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if h.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.Redis.Publish(ctx, progressChannel, payload).Err(); err == nil {
			return
		}
		logger.Log.Warn("进度发布到 Redis 失败，仅推送本地订阅", zap.Uint("batchId", evt.BatchID))
	}
	h.deliver(evt.BatchID, payload)
}

// deliver 发送缓冲满时丢弃，慢订阅者不阻塞评测
func (h *ProgressHub) deliver(batchID uint, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[batchID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// Subscribers 某批次当前的本地订阅数
func (h *ProgressHub) Subscribers(batchID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

func (h *ProgressHub) register(c *progressClient) {
	h.mu.Lock()
	set, ok := h.clients[c.batchID]
	if !ok {
		set = make(map[*progressClient]struct{})
		h.clients[c.batchID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	monitoring.ProgressSubscribers.Inc()
}

func (h *ProgressHub) unregister(c *progressClient) {
	h.mu.Lock()
	set := h.clients[c.batchID]
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
		if len(set) == 0 {
			delete(h.clients, c.batchID)
		}
		monitoring.ProgressSubscribers.Dec()
	}
	h.mu.Unlock()
}

// ServeWs 升级连接并订阅批次进度，连接建立后先推送 snapshot
func (h *ProgressHub) ServeWs(w http.ResponseWriter, r *http.Request, snapshot ProgressEvent) {
	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("进度订阅升级失败", zap.Error(err), zap.Uint("batchId", snapshot.BatchID))
		return
	}
	c := &progressClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, progressSendBuffer),
		batchID: snapshot.BatchID,
	}
	h.register(c)

	snapshot.Type = ProgressSnapshot
	if payload, err := json.Marshal(snapshot); err == nil {
		c.send <- payload
	}

	go c.writePump()
	go c.readPump()
}

// readPump 只处理 pong 与关闭
func (c *progressClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("进度订阅异常关闭", zap.Uint("batchId", c.batchID), zap.Error(err))
			}
			return
		}
	}
}

func (c *progressClient) writePump() {
	ticker := time.NewTicker(progressPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
