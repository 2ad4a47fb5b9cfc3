package configs

import (
	"time"

	"github.com/spf13/viper"
)

// EventsConfig 控制任务事件发布与 websocket 推送.
type EventsConfig struct {
	Enabled bool            `mapstructure:"enabled"` // 总开关
	Job     JobEventsConfig `mapstructure:"job"`
	WS      WSConfig        `mapstructure:"ws"`
}

// JobEventsConfig 针对任务状态的事件开关.
type JobEventsConfig struct {
	StatusUpdate bool `mapstructure:"status_update"`
	Completed    bool `mapstructure:"completed"`
	Failed       bool `mapstructure:"failed"`
}

// WSConfig websocket 推送通道配置.
type WSConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" rule:"gt=0"`
	ClientTimeout     time.Duration `mapstructure:"client_timeout"     rule:"gtfield=HeartbeatInterval"`
	SendBuffer        int           `mapstructure:"send_buffer"        rule:"min=1"`
	MaxSubscriptions  int           `mapstructure:"max_subscriptions"  rule:"min=1"`
}

func (c *EventsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("events.enabled", true)

	v.SetDefault("events.job.status_update", true)
	v.SetDefault("events.job.completed", true)
	v.SetDefault("events.job.failed", true)

	v.SetDefault("events.ws.enabled", true)
	v.SetDefault("events.ws.heartbeat_interval", "5s")
	v.SetDefault("events.ws.client_timeout", "10s")
	v.SetDefault("events.ws.send_buffer", 64)
	v.SetDefault("events.ws.max_subscriptions", 100)
}
