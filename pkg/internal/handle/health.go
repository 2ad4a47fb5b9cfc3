package handle

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yeisme/dedupvault/pkg/configs"
	ctxPkg "github.com/yeisme/dedupvault/pkg/context"
)

// probeTimeout 单个后端探测的超时.
const probeTimeout = 2 * time.Second

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Probe 从请求上下文取出一个后端客户端，未注入时 ok 为 false.
type Probe struct {
	Name string
	Get  func(ctx context.Context) (checker healthChecker, ok bool)
}

// Probes 就绪检查覆盖的后端，顺序即响应中的顺序.
var Probes = []Probe{
	{"db", func(ctx context.Context) (healthChecker, bool) {
		c := ctxPkg.GetDBClient(ctx)
		return c, c != nil && c.DB != nil
	}},
	{"s3", func(ctx context.Context) (healthChecker, bool) {
		c := ctxPkg.GetS3Client(ctx)
		return c, c != nil
	}},
	{"mq", func(ctx context.Context) (healthChecker, bool) {
		c := ctxPkg.GetMQClient(ctx)
		return c, c != nil
	}},
	{"kv", func(ctx context.Context) (healthChecker, bool) {
		c := ctxPkg.GetKVClient(ctx)
		return c, c != nil && c.KVStore != nil
	}},
}

// ComponentHealth 单个后端的检查结果.
type ComponentHealth struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func (p Probe) run(ctx context.Context) ComponentHealth {
	res := ComponentHealth{Component: p.Name, Status: "ok"}

	checker, ok := p.Get(ctx)
	if !ok {
		res.Status, res.Error = "unhealthy", p.Name+" client not initialized"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		res.Status, res.Error = "unhealthy", err.Error()
	}

	return res
}

func statusCode(ok bool) int {
	if ok {
		return http.StatusOK
	}

	return http.StatusServiceUnavailable
}

// HealthComponent 返回单个后端的检查处理器.
//
//	@Summary	单个后端健康检查（db、s3、mq、kv）
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	ComponentHealth
//	@Failure	503	{object}	ComponentHealth
//	@Router		/api/v1/health/{component} [get]
func HealthComponent(p Probe) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := p.run(c.Request.Context())
		c.JSON(statusCode(res.Status == "ok"), res)
	}
}

// HealthReady 并发检查所有后端，任一失败返回 503.
//
//	@Summary	就绪检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	503	{object}	map[string]any
//	@Router		/api/v1/health/ready [get]
func HealthReady(c *gin.Context) {
	ctx := c.Request.Context()
	results := make([]ComponentHealth, len(Probes))

	var g errgroup.Group

	for i, p := range Probes {
		g.Go(func() error {
			results[i] = p.run(ctx)
			return nil
		})
	}

	_ = g.Wait()

	ready := true

	for _, r := range results {
		ready = ready && r.Status == "ok"
	}

	status := "ok"
	if !ready {
		status = "unhealthy"
	}

	c.JSON(statusCode(ready), gin.H{"status": status, "components": results})
}

// HealthLive 进程存活即返回 200，不访问后端.
//
//	@Summary	存活检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/api/v1/health/live [get]
func HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": configs.AppVersion})
}
