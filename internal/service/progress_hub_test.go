package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llm_eval_backend/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialProgress(t *testing.T, hub *ProgressHub, snapshot ProgressEvent) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, snapshot)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestProgressHubStreamsBatchRun(t *testing.T) {
	f := newBatchFixture(t, nil)
	hub := NewProgressHub(nil)
	f.env.batches.Progress = hub
	b := f.createBatch(t, model.MethodAuto)

	conn := dialProgress(t, hub, ProgressEvent{BatchID: b.ID, Status: b.Status})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot ProgressEvent
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, ProgressSnapshot, snapshot.Type)
	assert.Equal(t, model.BatchPending, snapshot.Status)
	assert.Equal(t, 1, hub.Subscribers(b.ID))

	f.run(t, b.ID, nil)

	var (
		units    []ProgressEvent
		finished ProgressEvent
	)
	for {
		var evt ProgressEvent
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Type == ProgressFinished {
			finished = evt
			break
		}
		assert.Equal(t, ProgressUnitDone, evt.Type)
		units = append(units, evt)
	}

	require.Len(t, units, 2)
	assert.ElementsMatch(t, []int{1, 2}, []int{units[0].Done, units[1].Done})
	for _, u := range units {
		assert.Equal(t, 2, u.Total)
		assert.Equal(t, model.EvaluationScored, u.UnitStatus)
		assert.NotNil(t, u.Score)
	}

	assert.Equal(t, model.BatchCompleted, finished.Status)
	assert.Equal(t, 2, finished.Done)
	require.NotNil(t, finished.Metrics)
	assert.Equal(t, 2, finished.Metrics.ScoredCount)
	assert.Empty(t, finished.Reason)
}

func TestProgressHubOnlyReachesSubscribedBatch(t *testing.T) {
	hub := NewProgressHub(nil)
	conn := dialProgress(t, hub, ProgressEvent{BatchID: 1, Status: model.BatchInProgress})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot ProgressEvent
	require.NoError(t, conn.ReadJSON(&snapshot))

	hub.Publish(ProgressEvent{Type: ProgressUnitDone, BatchID: 2, Done: 1, Total: 1})
	hub.Publish(ProgressEvent{Type: ProgressUnitDone, BatchID: 1, Done: 3, Total: 4})

	var evt ProgressEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, uint(1), evt.BatchID)
	assert.Equal(t, 3, evt.Done)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers(1) == 0 }, 2*time.Second, 10*time.Millisecond)

	// nil hub 安全
	var none *ProgressHub
	none.Publish(ProgressEvent{BatchID: 1})
}
