// Package configs 管理应用程序配置，包括数据库、对象存储、消息队列以及去重流水线的配置信息.
// configs 包支持多种配置格式（YAML、JSON、TOML、dotenv）并启用热重载.
//
// Example:
//
//	err := configs.InitConfig("./")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	config := configs.GetConfig()
//	fmt.Println(config.Server.Port)
//
// Example accessing dedup thresholds:
//
//	dedup := configs.GetConfig().Dedup
//	fmt.Println(dedup.JoinThreshold, dedup.StabilityThreshold)
package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// AppName 应用名称，用于 env 前缀、对象存储 app info 与追踪服务名.
	AppName = "dedupvault"
	// AppVersion 应用版本.
	AppVersion = "0.1.0"
)

type (
	// AppConfig 全局应用程序配置.
	AppConfig struct {
		Server         ServerConfig         `mapstructure:"server"`          // ServerConfig 服务器配置
		Log            LogConfig            `mapstructure:"log"`             // LogConfig 日志相关配置
		DB             DBConfig             `mapstructure:"db"`              // DBConfig 数据库配置
		S3             S3Config             `mapstructure:"s3"`              // S3Config 对象存储配置
		MQ             MQConfig             `mapstructure:"mq"`              // MQConfig 消息队列配置
		KV             KVConfig             `mapstructure:"kv"`              // KVConfig 键值存储配置
		Metrics        MetricsConfig        `mapstructure:"metrics"`         // MetricsConfig 监控配置
		Tracing        TracingConfig        `mapstructure:"tracing"`         // TracingConfig 追踪配置
		Auth           AuthConfig           `mapstructure:"auth"`            // AuthConfig 租户识别
		CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"` // CircuitBreakerConfig 熔断
		Events         EventsConfig         `mapstructure:"events"`          // EventsConfig 任务事件推送
		Upload         UploadConfig         `mapstructure:"upload"`          // UploadConfig 分片上传
		Queue          QueueConfig          `mapstructure:"queue"`           // QueueConfig 任务队列
		Worker         WorkerConfig         `mapstructure:"worker"`          // WorkerConfig 工作池
		Dedup          DedupConfig          `mapstructure:"dedup"`           // DedupConfig 去重与聚类
		Embedding      EmbeddingConfig      `mapstructure:"embedding"`       // EmbeddingConfig 向量化
		Index          IndexConfig          `mapstructure:"index"`           // IndexConfig 相似度索引
	}
)

var (
	// globalConfig 全局配置实例.
	globalConfig AppConfig
	// appViper 全局 Viper 实例.
	appViper *viper.Viper
	// cfgMu 保护热重载时的并发读写.
	cfgMu sync.RWMutex
)

// InitConfig 加载应用程序配置，支持多种格式(yaml、json、toml、dotenv)并启用热重载.
// path 为空或不存在配置文件时仅使用默认值与环境变量.
func InitConfig(path string) error {
	v := NewViper()

	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
		} else {
			v.SetConfigName("config")
			v.AddConfigPath(path)
			v.AddConfigPath(filepath.Join(path, "configs"))

			for _, ext := range []string{"yaml", "yml", "json", "toml", "env", "dotenv"} {
				cfg := filepath.Join(path, "config."+ext)
				if _, err := os.Stat(cfg); err == nil {
					v.SetConfigFile(cfg)

					break
				}
			}
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !asConfigNotFound(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg, err := Load(v)
	if err != nil {
		return err
	}

	cfgMu.Lock()
	globalConfig = *cfg
	appViper = v
	cfgMu.Unlock()

	reloadConfigs(v, cfg.Server.ReloadConfig)

	return nil
}

// NewViper 创建已设置默认值与环境变量映射的 viper 实例.
func NewViper() *viper.Viper {
	v := viper.New()
	setAllDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load 将 viper 中的配置解析并校验为 AppConfig.
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回只包含默认值的配置，常用于测试.
func Default() *AppConfig {
	cfg, err := Load(NewViper())
	if err != nil {
		panic(err)
	}

	return cfg
}

// setAllDefaults 设置所有配置的默认值.
func setAllDefaults(v *viper.Viper) {
	var c AppConfig

	c.Server.setDefaults(v)
	c.Log.setDefaults(v)
	c.DB.setDefaults(v)
	c.S3.setDefaults(v)
	c.MQ.setDefaults(v)
	c.KV.setDefaults(v)
	c.Metrics.setDefaults(v)
	c.Tracing.setDefaults(v)
	c.Auth.setDefaults(v)
	c.CircuitBreaker.setDefaults(v)
	c.Events.setDefaults(v)
	c.Upload.setDefaults(v)
	c.Queue.setDefaults(v)
	c.Worker.setDefaults(v)
	c.Dedup.setDefaults(v)
	c.Embedding.setDefaults(v)
	c.Index.setDefaults(v)
}

func reloadConfigs(v *viper.Viper, isHotReload bool) {
	if !isHotReload || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Println("Config file changed:", e.Name)

		cfg, err := Load(v)
		if err != nil {
			fmt.Printf("Error reloading config: %v\n", err)
			return
		}

		cfgMu.Lock()
		globalConfig = *cfg
		cfgMu.Unlock()
	})
	v.WatchConfig()
}

// GetConfig 返回全局配置实例.
func GetConfig() *AppConfig {
	cfgMu.RLock()
	defer cfgMu.RUnlock()

	c := globalConfig

	return &c
}

// GetViper 返回全局 viper 实例，未初始化时为 nil.
func GetViper() *viper.Viper {
	cfgMu.RLock()
	defer cfgMu.RUnlock()

	return appViper
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}

	return ok
}

// redactedValue 替换敏感字段后的占位.
const redactedValue = "******"

func redact(s *string) {
	if *s != "" {
		*s = redactedValue
	}
}

// Redacted 返回隐藏了密码与密钥的副本，用于打印.
func (c AppConfig) Redacted() AppConfig {
	for _, s := range []*string{
		&c.DB.Password,
		&c.DB.DSN,
		&c.S3.SecretAccessKey,
		&c.MQ.Common.Password,
		&c.MQ.NATS.JWT,
		&c.MQ.NATS.NKey,
		&c.MQ.Redis.Password,
		&c.KV.Redis.Password,
		&c.KV.NATS.Password,
		&c.Queue.Redis.Password,
		&c.Embedding.Document.APIKey,
		&c.Embedding.Image.APIKey,
	} {
		redact(s)
	}

	return c
}
