// Package embedding 把文件内容转换为向量，每个媒体类别使用各自的提供者.
package embedding

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// 提供者类型.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// Provider 向量化能力.
type Provider interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, content []byte) ([]float32, error)
}

// NewProvider 按配置创建单个类别的提供者.
func NewProvider(category model.Category, cfg configs.EmbeddingProviderConfig, maxInput int64) (Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg, maxInput)
	case ProviderHash, "":
		mode := HashWords
		if category == model.CategoryImage {
			mode = HashBytes
		}

		return NewHashing(cfg.Dimension, mode), nil
	default:
		return nil, errors.Newf("unsupported embedding provider %q for %s", cfg.Provider, category)
	}
}

// NewProviders 为所有类别创建提供者.
func NewProviders(cfg configs.EmbeddingConfig) (map[model.Category]Provider, error) {
	doc, err := NewProvider(model.CategoryDocument, cfg.Document, cfg.MaxInputBytes)
	if err != nil {
		return nil, err
	}

	img, err := NewProvider(model.CategoryImage, cfg.Image, cfg.MaxInputBytes)
	if err != nil {
		return nil, err
	}

	return map[model.Category]Provider{
		model.CategoryDocument: doc,
		model.CategoryImage:    img,
	}, nil
}
