package embedding

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// DefaultOpenAIModel 默认文本向量模型.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAI 调用 OpenAI 兼容接口生成文本向量.
type OpenAI struct {
	client   *openai.Client
	model    string
	dim      int
	maxInput int64
}

// NewOpenAI 创建 OpenAI 提供者.
func NewOpenAI(cfg configs.EmbeddingProviderConfig, maxInput int64) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedding provider requires api_key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAI{client: &client, model: model, dim: cfg.Dimension, maxInput: maxInput}, nil
}

// Name 提供者名称.
func (o *OpenAI) Name() string { return "openai-" + o.model }

// Dimension 向量维度.
func (o *OpenAI) Dimension() int { return o.dim }

// Embed 请求向量，输入按字节上限截断到完整字符.
func (o *OpenAI) Embed(ctx context.Context, content []byte) ([]float32, error) {
	text := truncateUTF8(content, o.maxInput)
	if strings.TrimSpace(text) == "" {
		return make([]float32, o.dim), nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(o.model),
	}
	// 只有 text-embedding-3 系列支持指定维度
	if o.dim > 0 && strings.HasPrefix(o.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai embeddings")
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai returned no embedding")
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}

	return out, nil
}

func truncateUTF8(b []byte, limit int64) string {
	if limit <= 0 || int64(len(b)) <= limit {
		return strings.ToValidUTF8(string(b), "")
	}

	return strings.ToValidUTF8(string(b[:limit]), "")
}
