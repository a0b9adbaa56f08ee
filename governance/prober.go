package governance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var errProbeIncomplete = errors.New("probe did not complete")

// ProbeTarget 一次 HTTP 探测
type ProbeTarget struct {
	Key string // ServiceInstance.Key()
	URL string
}

// ProbeResult 探测结果，Err 为 nil 表示通过
type ProbeResult struct {
	Key string
	Err error
}

// Prober 用协程池并发执行 HTTP GET 探测，2xx 视为通过
type Prober struct {
	client  *http.Client
	pool    *ants.Pool
	timeout time.Duration
	logger  *logger.CtxZapLogger
}

// NewProber 创建探测器
func NewProber(workers int, timeout time.Duration, log *logger.CtxZapLogger) (*Prober, error) {
	if log == nil {
		log = logger.GetLogger("registry")
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error("💥 health probe panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		pool:    pool,
		timeout: timeout,
		logger:  log,
	}, nil
}

// Probe 单次探测
func (p *Prober) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// ProbeAll 并发探测并等待全部完成，结果顺序与 targets 一致
func (p *Prober) ProbeAll(ctx context.Context, targets []ProbeTarget) []ProbeResult {
	results := make([]ProbeResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		results[i] = ProbeResult{Key: t.Key, Err: errProbeIncomplete}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i].Err = p.Probe(ctx, t.URL)
		}
		if err := p.pool.Submit(task); err != nil {
			// 协程池已释放：同步执行
			task()
		}
	}
	wg.Wait()
	return results
}

// Release 释放协程池
func (p *Prober) Release() {
	p.pool.Release()
}
