package embedding

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/groupcache"
	"github.com/sony/gobreaker"

	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

const groupName = "dedupvault-embeddings"

// ObjectOpener 读取对象内容.
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Request 一次向量化请求.
type Request struct {
	Category  model.Category
	SHA256    string
	ObjectKey string
}

// Options Embedder 可选项.
type Options struct {
	MaxInputBytes int64
	// CacheBytes 大于 0 时按内容哈希记忆化结果
	CacheBytes int64
	Breaker    *gobreaker.CircuitBreaker
	// Observe 每次实际调用提供者后回调
	Observe func(provider string, d time.Duration, err error)
}

// Embedder 按类别选择提供者，负责读取内容、熔断与记忆化.
type Embedder struct {
	providers map[model.Category]Provider
	objects   ObjectOpener
	opts      Options
	group     *groupcache.Group
}

// NewEmbedder 创建 Embedder.
func NewEmbedder(providers map[model.Category]Provider, objects ObjectOpener, opts Options) *Embedder {
	e := &Embedder{providers: providers, objects: objects, opts: opts}
	if opts.CacheBytes > 0 {
		e.group = sharedGroup(opts.CacheBytes)
	}

	return e
}

// Provider 返回类别对应的提供者.
func (e *Embedder) Provider(category model.Category) (Provider, bool) {
	p, ok := e.providers[category]

	return p, ok
}

// Embed 返回请求内容的向量，失败统一为 ExternalCapabilityError.
func (e *Embedder) Embed(ctx context.Context, req Request) ([]float32, error) {
	p, ok := e.providers[req.Category]
	if !ok {
		return nil, errs.Validation("no embedding provider for category %q", req.Category)
	}

	if e.group == nil || req.SHA256 == "" {
		return e.compute(ctx, p, req)
	}

	var data []byte

	key := cacheKey(p.Name(), req)
	if err := e.group.Get(withEmbedder(ctx, e), key, groupcache.AllocatingByteSliceSink(&data)); err != nil {
		if errors.Is(err, errs.ErrExternalCapability) || errors.Is(err, errs.ErrValidation) {
			return nil, err
		}

		return nil, errs.External(err, "embedding cache")
	}

	return decodeVector(data), nil
}

func (e *Embedder) compute(ctx context.Context, p Provider, req Request) ([]float32, error) {
	content, err := e.read(ctx, req.ObjectKey)
	if err != nil {
		return nil, errs.External(err, "read object %s", req.ObjectKey)
	}

	start := time.Now()

	var vec []float32
	if e.opts.Breaker != nil {
		var res any

		res, err = e.opts.Breaker.Execute(func() (any, error) { return p.Embed(ctx, content) })
		if err == nil {
			vec, _ = res.([]float32)
		}
	} else {
		vec, err = p.Embed(ctx, content)
	}

	if e.opts.Observe != nil {
		e.opts.Observe(p.Name(), time.Since(start), err)
	}

	if err != nil {
		return nil, errs.External(err, "embedding provider %s", p.Name())
	}

	return vec, nil
}

func (e *Embedder) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := e.objects.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if e.opts.MaxInputBytes > 0 {
		r = io.LimitReader(rc, e.opts.MaxInputBytes)
	}

	return io.ReadAll(r)
}

// -------------------------- groupcache 记忆化 --------------------------

var (
	groupOnce sync.Once
	group     *groupcache.Group
)

type embedderKey struct{}

func withEmbedder(ctx context.Context, e *Embedder) context.Context {
	return context.WithValue(ctx, embedderKey{}, e)
}

// sharedGroup groupcache 的组名全局唯一，进程内只创建一次，加载时从 ctx 取出发起方.
func sharedGroup(size int64) *groupcache.Group {
	groupOnce.Do(func() {
		group = groupcache.NewGroup(groupName, size, groupcache.GetterFunc(loadEmbedding))
	})

	return group
}

func loadEmbedding(ctx context.Context, key string, dest groupcache.Sink) error {
	e, ok := ctx.Value(embedderKey{}).(*Embedder)
	if !ok {
		return errors.New("embedding loader missing from context")
	}

	req, provider, err := parseCacheKey(key)
	if err != nil {
		return err
	}

	p, ok := e.providers[req.Category]
	if !ok || p.Name() != provider {
		return errs.Validation("no embedding provider %q for category %q", provider, req.Category)
	}

	vec, err := e.compute(ctx, p, req)
	if err != nil {
		return err
	}

	return dest.SetBytes(encodeVector(vec))
}

// cacheKey 形如 provider|category|sha256|object_key，对象键放最后可包含分隔符.
func cacheKey(provider string, req Request) string {
	return strings.Join([]string{provider, string(req.Category), req.SHA256, req.ObjectKey}, "|")
}

func parseCacheKey(key string) (Request, string, error) {
	parts := strings.SplitN(key, "|", 4)
	if len(parts) != 4 {
		return Request{}, "", errors.Newf("malformed embedding cache key %q", key)
	}

	return Request{Category: model.Category(parts[1]), SHA256: parts[2], ObjectKey: parts[3]}, parts[0], nil
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(x))
	}

	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}

	return out
}
