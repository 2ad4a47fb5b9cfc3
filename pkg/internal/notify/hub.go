package notify

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/metrics"
	"github.com/yeisme/dedupvault/pkg/queue"
	"github.com/yeisme/dedupvault/pkg/tracing"
)

// 客户端可发送的帧类型.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameError       = "error"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 4096
)

// Subscriber 事件来源，mq.Client 满足该接口.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// JobGetter 按租户读取任务，订阅时校验归属并发送当前状态.
type JobGetter interface {
	Get(ctx context.Context, tenant, jobID string) (*model.Job, error)
}

type inbound struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type outbound struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type client struct {
	id     string
	tenant string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	// subs 由 Hub.mu 保护
	subs map[string]struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub 管理 websocket 连接与按任务的订阅.
type Hub struct {
	cfg      configs.WSConfig
	jobs     JobGetter
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	byJob   map[string]map[*client]struct{}
}

// NewHub 创建推送中心.
func NewHub(cfg configs.WSConfig, jobs JobGetter) *Hub {
	return &Hub{
		cfg:  cfg,
		jobs: jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 跨域由 cors 中间件处理
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		byJob:   make(map[string]map[*client]struct{}),
	}
}

// Start 订阅任务事件主题并在后台分发，ctx 取消时停止.
func (h *Hub) Start(ctx context.Context, sub Subscriber) error {
	ch, err := sub.Subscribe(ctx, queue.TopicJobEvents)
	if err != nil {
		return errors.Wrap(err, "subscribe job events")
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				evt, err := queue.ParseJobEvent(msg)
				msg.Ack()

				if err != nil {
					nlog.Component("hub").Warn().Err(err).Str("message_id", msg.UUID).Msg("drop malformed job event")
					continue
				}

				_, span := tracing.StartSpan(queue.ContextFromMessage(msg), "hub.broadcast",
					trace.WithSpanKind(trace.SpanKindConsumer),
					trace.WithAttributes(tracing.AttrJobID.String(evt.Payload.JobID), tracing.AttrTenant.String(evt.Payload.TenantID)),
				)
				h.Broadcast(evt.Payload)
				span.End()
			}
		}
	}()

	return nil
}

// Broadcast 把事件发给订阅了该任务且租户一致的客户端.
func (h *Hub) Broadcast(evt queue.JobEventPayload) {
	data, err := sonic.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.byJob[evt.JobID]))

	for c := range h.byJob[evt.JobID] {
		if c.tenant == evt.TenantID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, data)
	}
}

// Clients 当前连接数.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Serve 升级连接并阻塞到连接结束.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenant string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}

	c := &client{
		id:     strconv.FormatUint(xxhash.Sum64String(tenant+"|"+model.NewULID()), 36),
		tenant: tenant,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]struct{}),
	}

	h.register(c)
	defer h.unregister(c)

	logger := nlog.Component("hub").With().Str("client", c.id).Str("tenant", tenant).Logger()
	logger.Debug().Msg("websocket client connected")

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	logger.Debug().Msg("websocket client disconnected")

	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)

		for jobID := range c.subs {
			h.dropSub(c, jobID)
		}

		metrics.ActiveConnections.Dec()
	}
	h.mu.Unlock()

	c.close()
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.close()
	}
}

// dropSub 调用方持有 h.mu.
func (h *Hub) dropSub(c *client, jobID string) {
	delete(c.subs, jobID)

	if set := h.byJob[jobID]; set != nil {
		delete(set, c)

		if len(set) == 0 {
			delete(h.byJob, jobID)
		}
	}
}

// enqueue 发送缓冲满时断开慢客户端.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		nlog.Component("hub").Warn().Str("client", c.id).Msg("websocket send buffer full, disconnecting")
		c.close()
	}
}

func (h *Hub) reply(c *client, f outbound) {
	data, err := sonic.Marshal(f)
	if err != nil {
		return
	}

	h.enqueue(c, data)
}

func (h *Hub) touch(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ClientTimeout))
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	h.touch(c)

	c.conn.SetPongHandler(func(string) error {
		h.touch(c)
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		h.touch(c)
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				nlog.Component("hub").Debug().Err(err).Str("client", c.id).Msg("websocket read failed")
			}

			return
		}

		h.touch(c)

		if kind != websocket.TextMessage {
			h.reply(c, outbound{Type: FrameError, Message: "binary frames are not supported"})
			continue
		}

		var in inbound
		if err := sonic.Unmarshal(data, &in); err != nil {
			h.reply(c, outbound{Type: FrameError, Message: "invalid message format"})
			continue
		}

		h.handle(ctx, c, in)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, in inbound) {
	switch in.Type {
	case FramePing:
		h.reply(c, outbound{Type: FramePong})
	case FrameSubscribe:
		h.subscribe(ctx, c, in.JobID)
	case FrameUnsubscribe:
		h.mu.Lock()
		h.dropSub(c, in.JobID)
		h.mu.Unlock()
	default:
		h.reply(c, outbound{Type: FrameError, Message: "unknown message type: " + in.Type})
	}
}

func (h *Hub) subscribe(ctx context.Context, c *client, jobID string) {
	if jobID == "" {
		h.reply(c, outbound{Type: FrameError, Message: "job_id is required"})
		return
	}

	// 其他租户的任务同样按不存在处理
	job, err := h.jobs.Get(ctx, c.tenant, jobID)
	if err != nil {
		msg := "failed to get job status"
		if errors.Is(err, errs.ErrNotFound) {
			msg = "job " + jobID + " not found"
		}

		h.reply(c, outbound{Type: FrameError, JobID: jobID, Message: msg})

		return
	}

	h.mu.Lock()
	if _, ok := c.subs[jobID]; !ok && len(c.subs) >= h.cfg.MaxSubscriptions {
		h.mu.Unlock()
		h.reply(c, outbound{Type: FrameError, JobID: jobID, Message: "too many subscriptions"})

		return
	}

	c.subs[jobID] = struct{}{}

	set := h.byJob[jobID]
	if set == nil {
		set = make(map[*client]struct{})
		h.byJob[jobID] = set
	}

	set[c] = struct{}{}
	h.mu.Unlock()

	// 订阅成功后立即推送当前状态
	if data, err := sonic.Marshal(JobEvent(job)); err == nil {
		h.enqueue(c, data)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))

			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
