// Package dedup 实现单个文件的去重流水线.
//
// 步骤严格按顺序执行，每一步都可能是出口:
//
//  1. 流式读取对象并计算 SHA-256
//  2. 在元数据库中查找同租户同哈希的其他文件，命中即为精确重复，不做向量化
//  3. 按声明的内容类型划分媒体类别并请求向量
//  4. 在同类别中查询最近邻
//  5. 把向量写入索引，写入在查询之后，文件不会匹配到自身
//  6. 交给簇管理器分配，提交时每个成员的向量都已在索引中
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/cluster"
	"github.com/yeisme/dedupvault/pkg/internal/embedding"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/tracing"
)

// ObjectOpener 读取对象内容.
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Embedder 向量化能力.
type Embedder interface {
	Embed(ctx context.Context, req embedding.Request) ([]float32, error)
}

// Result 一次处理的结果.
type Result struct {
	FileID      string
	SHA256      string
	Outcome     model.Outcome
	DuplicateOf string
	ClusterID   string
	// Similarity 与最近邻的相似度，新建簇且没有近邻时为 nil
	Similarity   *float64
	ClusterScore *float64
}

// Engine 去重引擎.
type Engine struct {
	store    *store.Store
	objects  ObjectOpener
	embedder Embedder
	index    vectorindex.Index
	clusters *cluster.Manager
	cfg      configs.DedupConfig
	observe  func(step string, d time.Duration)
}

// Option Engine 可选项.
type Option func(*Engine)

// WithStepObserver 每个步骤结束时回调耗时.
func WithStepObserver(fn func(step string, d time.Duration)) Option {
	return func(e *Engine) { e.observe = fn }
}

// New 创建去重引擎.
func New(st *store.Store, objects ObjectOpener, embedder Embedder, index vectorindex.Index,
	clusters *cluster.Manager, cfg configs.DedupConfig, opts ...Option,
) *Engine {
	e := &Engine{store: st, objects: objects, embedder: embedder, index: index, clusters: clusters, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Process 处理一个文件，重复执行是安全的.
func (e *Engine) Process(ctx context.Context, fileID string) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.process")
	span.SetAttributes(attribute.String("file_id", fileID))

	defer func() { tracing.EndSpan(span, err) }()

	f, err := e.store.GetFile(ctx, "", fileID)
	if err != nil {
		return nil, err
	}

	logger := nlog.Logger().With().Str("file_id", f.ID).Str("tenant", f.TenantID).Logger()

	if r, done, err := e.recorded(ctx, f); done || err != nil {
		logger.Debug().Msg("file already processed, returning recorded outcome")
		return r, err
	}

	// 1. 指纹
	var sum string

	err = e.step(ctx, "hash", func(ctx context.Context) error {
		sum, err = e.hash(ctx, f.ObjectKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 2. 精确重复
	var dup *model.File

	err = e.step(ctx, "lookup", func(ctx context.Context) error {
		dup, err = e.claim(ctx, f, sum)
		return err
	})
	if err != nil {
		return nil, err
	}

	if dup != nil {
		logger.Info().Str("duplicate_of", dup.ID).Msg("exact duplicate")

		return &Result{FileID: f.ID, SHA256: sum, Outcome: model.OutcomeExactDuplicate, DuplicateOf: dup.ID}, nil
	}

	// 3. 分类与向量化
	category := model.ClassifyCategory(f.ContentType, f.FileName)

	var vec []float32

	err = e.step(ctx, "embed", func(ctx context.Context) error {
		vec, err = e.embedder.Embed(ctx, embedding.Request{Category: category, SHA256: sum, ObjectKey: f.ObjectKey})
		return err
	})
	if err != nil {
		return nil, err
	}

	// 4. 最近邻
	var neighbor *vectorindex.Neighbor

	err = e.step(ctx, "search", func(ctx context.Context) error {
		neighbor, err = e.nearest(ctx, f, category, vec)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 5. 写入索引
	err = e.step(ctx, "insert", func(ctx context.Context) error {
		return e.index.Insert(ctx, vectorindex.Entry{
			FileID:    f.ID,
			TenantID:  f.TenantID,
			Category:  category,
			SHA256:    sum,
			Vector:    vec,
			CreatedAt: f.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	// 6. 分配簇
	var d cluster.Decision

	err = e.step(ctx, "assign", func(ctx context.Context) error {
		d, err = e.clusters.Assign(ctx, cluster.Candidate{File: f, Vector: vec, Neighbor: neighbor})
		return err
	})
	if err != nil {
		return nil, err
	}

	res = &Result{
		FileID:       f.ID,
		SHA256:       sum,
		Outcome:      outcomeOf(d.State),
		ClusterID:    d.ClusterID,
		ClusterScore: model.FloatPtr(d.Score),
	}
	if neighbor != nil {
		res.Similarity = model.FloatPtr(d.Similarity)
	}

	logger.Info().Str("cluster_id", d.ClusterID).Str("outcome", string(res.Outcome)).
		Float64("cluster_score", d.Score).Msg("file clustered")

	return res, nil
}

// recorded 文件已有结论时直接返回，必要时补写索引.
func (e *Engine) recorded(ctx context.Context, f *model.File) (*Result, bool, error) {
	if f.DuplicateOfID != nil {
		return &Result{FileID: f.ID, SHA256: f.Digest, Outcome: model.OutcomeExactDuplicate, DuplicateOf: *f.DuplicateOfID}, true, nil
	}

	if f.ClusterID == nil || f.SHA256 == nil {
		return nil, false, nil
	}

	cl, err := e.store.GetCluster(ctx, f.TenantID, *f.ClusterID)
	if err != nil {
		return nil, false, err
	}

	// 内存索引重启后条目会丢失，这里补写
	vecs, err := e.index.Vectors(ctx, []string{f.ID})
	if err != nil {
		return nil, false, err
	}

	if _, ok := vecs[f.ID]; !ok {
		category := model.ClassifyCategory(f.ContentType, f.FileName)

		vec, err := e.embedder.Embed(ctx, embedding.Request{Category: category, SHA256: *f.SHA256, ObjectKey: f.ObjectKey})
		if err != nil {
			return nil, false, err
		}

		err = e.index.Insert(ctx, vectorindex.Entry{
			FileID: f.ID, TenantID: f.TenantID, Category: category, SHA256: *f.SHA256, Vector: vec, CreatedAt: f.CreatedAt,
		})
		if err != nil {
			return nil, false, err
		}
	}

	return &Result{
		FileID:       f.ID,
		SHA256:       *f.SHA256,
		Outcome:      outcomeOf(f.ClusterState),
		ClusterID:    cl.ID,
		ClusterScore: model.FloatPtr(cl.IntraSimilarityScore),
	}, true, nil
}

func (e *Engine) hash(ctx context.Context, key string) (string, error) {
	rc, err := e.objects.Open(ctx, key)
	if err != nil {
		return "", errs.External(err, "open object %s", key)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: rc}); err != nil {
		return "", errs.External(err, "read object %s", key)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// claim 查找精确重复，未命中时把哈希写到文件上；并发写入同一哈希时唯一约束决定归属.
func (e *Engine) claim(ctx context.Context, f *model.File, sum string) (*model.File, error) {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxConflictRetries; attempt++ {
		dup, err := e.store.FindBySHA256(ctx, f.TenantID, sum, f.ID)
		if err != nil {
			return nil, err
		}

		if dup != nil {
			if err := e.store.MarkDuplicate(ctx, f.ID, dup.ID, sum); err != nil {
				return nil, err
			}

			return dup, nil
		}

		err = e.store.ClaimHash(ctx, f.ID, sum)
		if err == nil {
			return nil, nil //nolint:nilnil // 未命中
		}

		if !errors.Is(err, errs.ErrConsistencyConflict) {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

func (e *Engine) nearest(ctx context.Context, f *model.File, category model.Category, vec []float32) (*vectorindex.Neighbor, error) {
	k := e.cfg.NeighborCount
	if k <= 0 {
		k = 1
	}

	ns, err := e.index.Nearest(ctx, vectorindex.Query{
		TenantID: f.TenantID,
		Category: category,
		Vector:   vec,
		K:        k,
		Exclude:  f.ID,
	})
	if err != nil {
		return nil, err
	}

	if len(ns) == 0 {
		return nil, nil //nolint:nilnil // 索引为空
	}

	return &ns[0], nil
}

func (e *Engine) step(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, "dedup."+name)
	start := time.Now()

	defer func() {
		if e.observe != nil {
			e.observe(name, time.Since(start))
		}

		tracing.EndSpan(span, err)
	}()

	return fn(ctx)
}

func outcomeOf(state model.ClusterState) model.Outcome {
	switch state {
	case model.ClusterStateDuplicate:
		return model.OutcomeExactDuplicate
	case model.ClusterStateJoined:
		return model.OutcomeJoinedCluster
	default:
		return model.OutcomeNewCluster
	}
}

// ctxReader 在每次读取前检查取消.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
