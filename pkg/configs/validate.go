package configs

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// configValidator 独立于 gin 的校验器，只识别 rule 标签.
var configValidator = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("rule")

	return v
}()

// Validate 校验 rule 标签与跨字段约束.
func (c *AppConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Upload.PresignDefaultExpiry > c.Upload.PresignMaxExpiry {
		return fmt.Errorf("invalid config: upload.presign_default_expiry exceeds upload.presign_max_expiry")
	}

	if c.Queue.Retry.MaxBackoff < c.Queue.Retry.InitialBackoff {
		return fmt.Errorf("invalid config: queue.retry.max_backoff below initial_backoff")
	}

	return nil
}
