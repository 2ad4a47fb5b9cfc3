package kv

import (
	"bytes"
	"encoding/binary"
	"time"
)

// NATS KV 不支持键级过期，带 ttl 的值写成信封:
// "DVT1" + 过期时间(unix 毫秒，大端 8 字节) + 原始值.
// 上层写入的都是 JSON，不会以魔数开头.
var ttlMagic = []byte("DVT1")

const ttlHeaderLen = 12

// wrapTTL ttl<=0 时原样返回.
func wrapTTL(value []byte, ttl time.Duration, now time.Time) []byte {
	if ttl <= 0 {
		return value
	}

	out := make([]byte, ttlHeaderLen+len(value))
	copy(out, ttlMagic)
	binary.BigEndian.PutUint64(out[len(ttlMagic):ttlHeaderLen], uint64(now.Add(ttl).UnixMilli()))
	copy(out[ttlHeaderLen:], value)

	return out
}

// unwrapTTL 拆出原始值，过期时 expired 为 true.
func unwrapTTL(b []byte, now time.Time) (value []byte, expired bool) {
	if len(b) < ttlHeaderLen || !bytes.HasPrefix(b, ttlMagic) {
		return b, false
	}

	deadline := int64(binary.BigEndian.Uint64(b[len(ttlMagic):ttlHeaderLen]))
	if now.UnixMilli() >= deadline {
		return nil, true
	}

	return b[ttlHeaderLen:], false
}
