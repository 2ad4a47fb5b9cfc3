package vectorindex

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/yeisme/dedupvault/pkg/errs"
)

type breakerIndex struct {
	next Index
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker 用熔断器包装索引，失败与熔断统一为 ExternalCapabilityError.
func WithBreaker(next Index, cb *gobreaker.CircuitBreaker) Index {
	if cb == nil {
		return next
	}

	return &breakerIndex{next: next, cb: cb}
}

func (b *breakerIndex) Name() string { return b.next.Name() }

func (b *breakerIndex) call(op string, fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if err != nil {
		return nil, errs.External(err, "similarity index %s", op)
	}

	return res, nil
}

func (b *breakerIndex) Insert(ctx context.Context, e Entry) error {
	_, err := b.call("insert", func() (any, error) { return nil, b.next.Insert(ctx, e) })

	return err
}

func (b *breakerIndex) Nearest(ctx context.Context, q Query) ([]Neighbor, error) {
	res, err := b.call("nearest", func() (any, error) { return b.next.Nearest(ctx, q) })
	if err != nil {
		return nil, err
	}

	return res.([]Neighbor), nil
}

func (b *breakerIndex) Vectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	res, err := b.call("vectors", func() (any, error) { return b.next.Vectors(ctx, ids) })
	if err != nil {
		return nil, err
	}

	return res.(map[string][]float32), nil
}

func (b *breakerIndex) Delete(ctx context.Context, fileID string) error {
	_, err := b.call("delete", func() (any, error) { return nil, b.next.Delete(ctx, fileID) })

	return err
}
