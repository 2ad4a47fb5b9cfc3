// Package model 定义元数据库中的表结构.
package model

// All 返回需要迁移的元数据表，FileVector 只在 pgvector 索引下迁移.
func All() []any {
	return []any{&File{}, &Cluster{}, &Job{}}
}

// StrPtr 返回字符串指针.
func StrPtr(s string) *string {
	return &s
}

// FloatPtr 返回浮点指针.
func FloatPtr(f float64) *float64 {
	return &f
}
