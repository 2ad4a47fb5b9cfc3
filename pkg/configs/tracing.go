package configs

import (
	"time"

	"github.com/spf13/viper"
)

// 追踪导出器类型.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterZipkin   = "zipkin"
)

// TracingConfig 链路追踪配置，导出到 OTLP 或 Zipkin.
type TracingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"    rule:"required_if=Enabled true"`
	ServiceVersion string        `mapstructure:"service_version"`
	ExporterType   string        `mapstructure:"exporter_type"   rule:"oneof=otlp-http otlp-grpc zipkin"`
	Endpoint       string        `mapstructure:"endpoint"        rule:"required_if=Enabled true"`
	Insecure       bool          `mapstructure:"insecure"` // 仅 otlp-grpc
	SampleRate     float64       `mapstructure:"sample_rate"     rule:"min=0,max=1"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"  rule:"min=1"`
	MaxQueueSize   int           `mapstructure:"max_queue_size"  rule:"gtefield=MaxBatchSize"`
}

func (c *TracingConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", AppName)
	v.SetDefault("tracing.service_version", AppVersion)
	v.SetDefault("tracing.exporter_type", ExporterOTLPHTTP)
	v.SetDefault("tracing.endpoint", "http://localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.batch_timeout", 5*time.Second)
	v.SetDefault("tracing.max_batch_size", 512)
	v.SetDefault("tracing.max_queue_size", 2048)
}
