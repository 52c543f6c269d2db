package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	u "printserver/internal/utils"
)

// computePDFCacheKey hashes the inputs that determine the rendered output.
func computePDFCacheKey(markup, paperSize string) string {
	h := sha256.New()
	h.Write([]byte(markup))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToUpper(paperSize)))
	return "pdfcache:" + hex.EncodeToString(h.Sum(nil))
}

// getCachedPDF returns (nil, nil) on a cache miss.
func getCachedPDF(ctx context.Context, rdb *redis.Client, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}

	u.Info("PDF cache hit", "key", key)
	return cached, nil
}

// setCachedPDF stores a rendered PDF; a non-positive ttl falls back to one minute.
func setCachedPDF(ctx context.Context, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
