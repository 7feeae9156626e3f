package registry

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmgilman/go/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// FetchFunc 抽象上游元数据拉取，便于测试注入。返回 (nil, nil) 表示包不存在。
type FetchFunc func(ctx context.Context, fullName string) (*Metadata, error)

// CacheOptions 控制元数据缓存的容量与过期时间。
type CacheOptions struct {
	RegistryURL string
	TTL         time.Duration
	MaxEntries  int
	// Timeout 限制单次上游请求，0 表示只受调用方 http.Client 约束。
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Stats 是缓存计数快照，供诊断接口输出。
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	UpstreamCalls int64 `json:"upstream_calls"`
	Entries       int   `json:"entries"`
}

// entry 中 meta 为 nil 即为"包不存在"标记。
type entry struct {
	meta *Metadata
}

// Cache 在上游 FetchFunc 之上提供 TTL + LRU 缓存与请求合并。
type Cache struct {
	registryURL string
	fetch       FetchFunc
	timeout     time.Duration
	logger      *logrus.Logger

	entries *expirable.LRU[string, entry]
	group   singleflight.Group

	hits     *xsync.Counter
	misses   *xsync.Counter
	upstream *xsync.Counter
}

// NewCache 构建元数据缓存；TTL/容量非法时回退到保守默认值。
func NewCache(fetch FetchFunc, opts CacheOptions) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	size := opts.MaxEntries
	if size <= 0 {
		size = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Cache{
		registryURL: opts.RegistryURL,
		fetch:       fetch,
		timeout:     opts.Timeout,
		logger:      logger,
		entries:     expirable.NewLRU[string, entry](size, nil, ttl),
		hits:        xsync.NewCounter(),
		misses:      xsync.NewCounter(),
		upstream:    xsync.NewCounter(),
	}
}

// Lookup 返回包元数据；包不存在时返回 (nil, nil)。上游错误不会写入缓存。
func (c *Cache) Lookup(ctx context.Context, fullName string) (*Metadata, error) {
	key := c.registryURL + fullName
	if cached, ok := c.entries.Get(key); ok {
		c.hits.Inc()
		return cached.meta, nil
	}
	c.misses.Inc()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// 前一个 flight 刚结束时，后来者可能已错过 Get，这里再确认一次。
		if cached, ok := c.entries.Peek(key); ok {
			return cached, nil
		}
		return c.load(ctx, key, fullName)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), errkind.UpstreamUnavailable, "lookup package %s", fullName)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(entry).meta, nil
	}
}

// load 与单个调用方的取消解耦，保证共享 flight 不因某个客户端断开而失败。
func (c *Cache) load(ctx context.Context, key, fullName string) (entry, error) {
	c.upstream.Inc()
	started := time.Now()

	fetchCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.timeout)
		defer cancel()
	}

	meta, err := c.fetch(fetchCtx, fullName)
	fields := logrus.Fields{
		"action":     "registry_lookup",
		"package":    fullName,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("registry_lookup_failed")
		return entry{}, err
	}

	fields["found"] = meta != nil
	c.logger.WithFields(fields).Debug("registry_lookup_complete")

	cached := entry{meta: meta}
	c.entries.Add(key, cached)
	return cached, nil
}

// Stats 返回当前计数快照。
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Value(),
		Misses:        c.misses.Value(),
		UpstreamCalls: c.upstream.Value(),
		Entries:       c.entries.Len(),
	}
}
