// Package storage 聚合元数据库、对象存储、键值存储与消息队列连接.
//
// Example:
//
//	mgr, err := storage.New(ctx, configs.GetConfig(), metrics.GetRegistry())
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	objects := mgr.S3
//	db := mgr.DB
package storage

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yeisme/dedupvault/pkg/configs"
	dbc "github.com/yeisme/dedupvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/dedupvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/dedupvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	nlog "github.com/yeisme/dedupvault/pkg/log"
)

// Manager 聚合所有存储资源.
type Manager struct {
	DB *dbc.Client
	S3 s3c.Store
	KV *kvc.Client
	MQ *mqc.Client
}

// New 按配置初始化全部存储，任一失败时关闭已打开的连接.
func New(ctx context.Context, cfg *configs.AppConfig, registerer prometheus.Registerer) (*Manager, error) {
	m := &Manager{}

	var err error

	metricsOn := cfg.Metrics.Enabled && registerer != nil

	if m.DB, err = dbc.New(ctx, cfg.DB, metricsOn && cfg.Metrics.GormMetrics); err != nil {
		return nil, err
	}

	if m.S3, err = s3c.New(ctx, cfg.S3); err != nil {
		_ = m.Close()
		return nil, err
	}

	if m.KV, err = kvc.NewKVClient(ctx, cfg.KV); err != nil {
		_ = m.Close()
		return nil, err
	}

	var mqReg prometheus.Registerer
	if metricsOn && cfg.MQ.Common.EnableMetrics {
		mqReg = registerer
	}

	if m.MQ, err = mqc.New(ctx, cfg.MQ, mqReg); err != nil {
		_ = m.Close()
		return nil, err
	}

	nlog.Logger().Info().
		Str("db", cfg.DB.GetDBType()).
		Str("s3", string(cfg.S3.Driver)).
		Str("kv", cfg.KV.Type).
		Str("mq", string(cfg.MQ.Type)).
		Msg("storage manager initialized")

	return m, nil
}

// GetS3Client 获取对象存储.
func (m *Manager) GetS3Client() s3c.Store {
	return m.S3
}

// GetDBClient 获取 DB 客户端.
func (m *Manager) GetDBClient() *dbc.Client {
	return m.DB
}

// Close 关闭全部连接.
func (m *Manager) Close() error {
	var errs []error

	if m.MQ != nil {
		errs = append(errs, m.MQ.Close())
	}

	if m.KV != nil {
		errs = append(errs, m.KV.Close())
	}

	if m.S3 != nil {
		errs = append(errs, m.S3.Close())
	}

	if m.DB != nil {
		errs = append(errs, m.DB.Close())
	}

	return errors.Join(errs...)
}
