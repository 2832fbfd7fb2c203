// Package fetch 获取商品页 HTML。
//
// 网络重试、限速、年龄验证绕过都在这一层完成；上层只关心“拿到 HTML，或者失败”。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/infra/httpx"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultLanguage = "english"
)

// Fetcher 返回某个 AppID 的页面 HTML。
type Fetcher interface {
	Fetch(ctx context.Context, id domain.AppID) ([]byte, error)
}

// Func 让普通函数满足 Fetcher（测试与组合用）。
type Func func(ctx context.Context, id domain.AppID) ([]byte, error)

func (f Func) Fetch(ctx context.Context, id domain.AppID) ([]byte, error) { return f(ctx, id) }

// StatusError 表示站点返回了非 2xx 的 HTTP 状态码（已经过 httpx 的有界重试）。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Error 是单个 AppID 的抓取失败。对批处理而言不是致命错误。
type Error struct {
	AppID domain.AppID
	URL   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("抓取 app_id=%d 失败（%s）：%v", e.AppID, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode 返回 err 链上的 HTTP 状态码；不是状态码错误时返回 0。
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Options 是抓取层配置。
type Options struct {
	BaseURL  string
	Language string
	Timeout  time.Duration
	// Delay 是相邻两次请求的最小间隔（跨所有 worker 共享）；0 表示不限速。
	Delay time.Duration
	HTTP  httpx.Options
}

// Colly 是基于 colly 的 Fetcher：每次请求一个短生命周期 collector，共享同一个传输层与限速器。
type Colly struct {
	base     string
	language string
	timeout  time.Duration

	transport http.RoundTripper
	limiter   *rate.Limiter
	log       *zap.Logger
}

func New(opts Options, log *zap.Logger) (*Colly, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = domain.DefaultBaseURL
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base_url 不合法：%q", opts.BaseURL)
	}
	tr, err := httpx.NewTransport(opts.HTTP)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = defaultLanguage
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.Delay > 0 {
		lim = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	return &Colly{
		base:      base,
		language:  lang,
		timeout:   timeout,
		transport: tr,
		limiter:   lim,
		log:       log,
	}, nil
}

// ageGateCookies 让商品页直接返回正文，而不是年龄验证页。
func ageGateCookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: "birthtime", Value: "0", Path: "/"},
		{Name: "lastagecheckage", Value: "1-0-1900", Path: "/"},
		{Name: "wants_mature_content", Value: "1", Path: "/"},
		{Name: "mature_content", Value: "1", Path: "/"},
	}
}

// Fetch 抓取 id 的商品页。ctx 取消时立即返回（包括等待限速的阶段）。
func (f *Colly) Fetch(ctx context.Context, id domain.AppID) ([]byte, error) {
	page := domain.StoreURL(f.base, id)
	reqURL := page + "?l=" + url.QueryEscape(f.language)
	fail := func(err error) ([]byte, error) {
		return nil, &Error{AppID: id, URL: page, Err: err}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.timeout)
	if err := c.SetCookies(f.base, ageGateCookies()); err != nil {
		return fail(err)
	}

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	hdr := http.Header{}
	hdr.Set("User-Agent", httpx.RandomUserAgent())
	hdr.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	err := c.Request(http.MethodGet, reqURL, nil, colly.NewContext(), hdr)
	f.log.Debug("抓取完成",
		zap.Int("app_id", int(id)),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	switch {
	case ctx.Err() != nil:
		return fail(ctx.Err())
	case err != nil && status >= 300:
		return fail(&StatusError{URL: page, StatusCode: status})
	case err != nil:
		return fail(err)
	case status < 200 || status >= 300:
		return fail(&StatusError{URL: page, StatusCode: status})
	case len(body) == 0:
		return fail(errors.New("响应体为空"))
	}
	return body, nil
}
