package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
)

// HashMode 特征提取方式.
type HashMode int

const (
	// HashWords 文本按词切分.
	HashWords HashMode = iota
	// HashBytes 按字节 n-gram 切分，用于二进制内容.
	HashBytes
)

const byteGram = 4

// Hashing 确定性的特征哈希向量化，不依赖外部服务.
type Hashing struct {
	dim  int
	mode HashMode
}

// NewHashing 创建特征哈希提供者，dim 非正时取 256.
func NewHashing(dim int, mode HashMode) *Hashing {
	if dim <= 0 {
		dim = 256
	}

	return &Hashing{dim: dim, mode: mode}
}

// Name 提供者名称.
func (h *Hashing) Name() string {
	if h.mode == HashBytes {
		return fmt.Sprintf("hash-bytes-%d", h.dim)
	}

	return fmt.Sprintf("hash-words-%d", h.dim)
}

// Dimension 向量维度.
func (h *Hashing) Dimension() int { return h.dim }

// Embed 计算归一化的特征哈希向量.
func (h *Hashing) Embed(ctx context.Context, content []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dim)

	add := func(sum uint64) {
		idx := sum % uint64(h.dim)
		// 最高位决定符号，降低碰撞带来的偏差
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	switch h.mode {
	case HashBytes:
		if len(content) < byteGram {
			add(xxhash.Sum64(content))
			break
		}

		for i := 0; i+byteGram <= len(content); i++ {
			add(xxhash.Sum64(content[i : i+byteGram]))
		}
	default:
		words := strings.FieldsFunc(strings.ToLower(string(content)), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			add(xxhash.Sum64String(w))
		}
	}

	return vectorindex.Normalize(vec), nil
}
