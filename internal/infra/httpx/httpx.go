// Package httpx 提供抓取商品页用的 HTTP 传输层：UA 池、代理、有界重试。
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultRetryMax = 2
	defaultBackoff  = 500 * time.Millisecond
	maxBackoff      = 10 * time.Second

	// 重试前最多读掉多少响应体，以便复用连接。
	drainLimit = 64 << 10
)

// Options 是传输层的可调参数。零值可用：不走代理、默认重试次数与退避。
type Options struct {
	ProxyURL string
	// RetryMax 是最大重试次数（不含首次尝试）；负数表示不重试，0 使用默认值。
	RetryMax int
	// Backoff 是第一次重试前的等待；之后按次数线性增长，上限 10s。
	Backoff time.Duration
}

// StatusError 表示重试用尽前被取消时，最后一次得到的可重试状态码。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Transport 把“UA 池 + 代理 + keep-alive 策略 + 有界重试”固化为统一策略。
//
// fetch 层只负责“请求哪个 URL + 带哪些 cookie”，不关心网络策略细节。
type Transport struct {
	Base *http.Transport

	ua *uaPool

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int
	Backoff  time.Duration

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

// retryable 报告该响应状态是否值得重试：限流与服务端错误。
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) &&
		(req.Body == nil || req.Body == http.NoBody)
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", t.ua.random())
		}
		if t.DisableKeepAlives {
			r.Close = true
		}

		resp, err := t.Base.RoundTrip(r)
		var wait time.Duration
		switch {
		case err != nil:
			lastErr = err
			if req.Context().Err() != nil || attempt >= max {
				return nil, lastErr
			}
			wait = t.wait(attempt+1, nil)
		case retryable(resp.StatusCode) && attempt < max:
			// 最后一次之前的可重试状态：丢弃本次响应。最后一次把响应原样交给调用方。
			wait = t.wait(attempt+1, resp)
			_, _ = io.CopyN(io.Discard, resp.Body, drainLimit)
			_ = resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
		default:
			return resp, nil
		}

		if err := sleepCtx(req.Context(), wait); err != nil {
			return nil, lastErr
		}
	}
}

// wait 计算第 n 次重试前的等待：优先 Retry-After（秒），否则 Backoff*n；上限 maxBackoff。
func (t *Transport) wait(n int, resp *http.Response) time.Duration {
	if resp != nil {
		if s, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && s >= 0 {
			return min(time.Duration(s)*time.Second, maxBackoff)
		}
	}
	return min(t.Backoff*time.Duration(n), maxBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewTransport 构造共享的传输层（供 colly collector 通过 WithTransport 复用）。
//
// 规则：
// - ProxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - 内置 UA 池：请求未带 UA 时随机选一个
// - 有界重试：传输错误、429、5xx
func NewTransport(opts Options) (*Transport, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   8,
	}

	disableKeepAlives := false
	if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy.url 不合法：%q", proxyURL)
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	retryMax := opts.RetryMax
	switch {
	case retryMax == 0:
		retryMax = defaultRetryMax
	case retryMax < 0:
		retryMax = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Transport{
		Base:              base,
		ua:                globalUA,
		RetryMax:          retryMax,
		Backoff:           backoff,
		DisableKeepAlives: disableKeepAlives,
	}, nil
}

// RandomUserAgent 从内置 UA 池随机取一个。
func RandomUserAgent() string { return globalUA.random() }

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
