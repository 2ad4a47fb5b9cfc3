package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/notify"
	"github.com/yeisme/dedupvault/pkg/queue"
)

type jobTable struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func (t *jobTable) Get(_ context.Context, tenant, jobID string) (*model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok || (tenant != "" && j.TenantID != tenant) {
		return nil, errs.NotFound("job %s", jobID)
	}

	cp := *j

	return &cp, nil
}

type env struct {
	hub    *notify.Hub
	pub    *notify.Publisher
	server *httptest.Server
	jobs   *jobTable
}

func newEnv(t *testing.T, ws configs.WSConfig) *env {
	t.Helper()

	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ch.Close() })

	jobs := &jobTable{jobs: map[string]*model.Job{
		"job-a": {ID: "job-a", TenantID: "t1", FileID: "f1", Status: model.JobStatusPending, UpdatedAt: time.Now()},
		"job-b": {ID: "job-b", TenantID: "t2", FileID: "f2", Status: model.JobStatusPending, UpdatedAt: time.Now()},
	}}

	hub := notify.NewHub(ws, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx, ch))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("tenant"))
	}))
	t.Cleanup(srv.Close)

	events := configs.Default().Events

	return &env{hub: hub, pub: notify.NewPublisher(ch, events, "test"), server: srv, jobs: jobs}
}

func defaultWS() configs.WSConfig {
	return configs.Default().Events.WS
}

func (e *env) dial(t *testing.T, tenant string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/?tenant=" + tenant

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))

	return f
}

func TestPingPongAndErrors(t *testing.T) {
	e := newEnv(t, defaultWS())
	conn := e.dial(t, "t1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "invalid message format", f["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, "error", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	assert.Equal(t, "job_id is required", readFrame(t, conn)["message"])
}

func TestSubscribeReceivesSnapshotAndEvents(t *testing.T) {
	e := newEnv(t, defaultWS())
	conn := e.dial(t, "t1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "job-a"}))

	snap := readFrame(t, conn)
	assert.Equal(t, string(queue.JobStatusUpdate), snap["type"])
	assert.Equal(t, "job-a", snap["job_id"])
	assert.Equal(t, "pending", snap["status"])

	cluster := "c1"
	score := 0.91
	e.pub.JobChanged(context.Background(), &model.Job{
		ID: "job-a", TenantID: "t1", FileID: "f1",
		Status: model.JobStatusCompleted, Outcome: model.OutcomeJoinedCluster,
		ClusterID: &cluster, SimilarityScore: &score, UpdatedAt: time.Now(),
	})

	done := readFrame(t, conn)
	assert.Equal(t, string(queue.JobCompleted), done["type"])
	assert.Equal(t, "joined_cluster", done["outcome"])
	assert.Equal(t, "c1", done["cluster_id"])
	assert.InDelta(t, 0.91, done["similarity_score"], 1e-9)
}

func TestTenantMismatchIsRejected(t *testing.T) {
	e := newEnv(t, defaultWS())
	conn := e.dial(t, "t1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "job-b"}))

	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "job job-b not found", f["message"])

	// 伪造租户的事件不会推给 t1
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "job-a"}))
	readFrame(t, conn)

	e.hub.Broadcast(queue.JobEventPayload{Type: queue.JobFailed, JobID: "job-a", TenantID: "t2", Status: "failed"})
	e.hub.Broadcast(queue.JobEventPayload{Type: queue.JobFailed, JobID: "job-a", TenantID: "t1", Status: "failed", Error: "boom"})

	f = readFrame(t, conn)
	assert.Equal(t, "t1", f["tenant_id"])
	assert.Equal(t, "boom", f["error"])
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	e := newEnv(t, defaultWS())
	conn := e.dial(t, "t1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "job-a"}))
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe", "job_id": "job-a"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	e.hub.Broadcast(queue.JobEventPayload{Type: queue.JobStatusUpdate, JobID: "job-a", TenantID: "t1", Status: "processing"})
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])
}

func TestSilentClientIsDropped(t *testing.T) {
	ws := defaultWS()
	ws.HeartbeatInterval = 50 * time.Millisecond
	ws.ClientTimeout = 200 * time.Millisecond

	e := newEnv(t, ws)
	e.dial(t, "t1")

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	// 客户端不读不写，超过超时后被断开
	require.Eventually(t, func() bool { return e.hub.Clients() == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestJobEventMapping(t *testing.T) {
	msg := "embedding timeout"
	p := notify.JobEvent(&model.Job{ID: "j", TenantID: "t", Status: model.JobStatusFailed, ErrorMessage: &msg})
	assert.Equal(t, queue.JobFailed, p.Type)
	assert.Equal(t, msg, p.Error)

	p = notify.JobEvent(&model.Job{ID: "j", Status: model.JobStatusProcessing})
	assert.Equal(t, queue.JobStatusUpdate, p.Type)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *notify.Publisher
	p.JobChanged(context.Background(), &model.Job{ID: "j"})
	p.FileDeleted(context.Background(), queue.FileDeletedPayload{FileID: "f"})
}
