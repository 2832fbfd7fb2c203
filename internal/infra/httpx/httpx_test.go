package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newClient(t *testing.T, opts Options) *http.Client {
	t.Helper()
	tr, err := NewTransport(opts)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return &http.Client{Transport: tr, Timeout: 5 * time.Second}
}

func TestNewTransport_ProxyDisablesKeepAlive(t *testing.T) {
	tr, err := NewTransport(Options{ProxyURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("代理模式应禁用 keep-alive")
	}
	if tr.RetryMax != defaultRetryMax {
		t.Fatalf("RetryMax=0 应使用默认值，实际 %d", tr.RetryMax)
	}
}

func TestNewTransport_NoProxyKeepsDefault(t *testing.T) {
	tr, err := NewTransport(Options{RetryMax: -1})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if tr.Base.Proxy != nil || tr.Base.DisableKeepAlives {
		t.Fatalf("无代理时不应改动连接策略")
	}
	if tr.RetryMax != 0 {
		t.Fatalf("RetryMax<0 应关闭重试，实际 %d", tr.RetryMax)
	}

	if _, err := NewTransport(Options{ProxyURL: "127.0.0.1"}); err == nil {
		t.Fatalf("缺少 scheme 的代理地址应返回错误")
	}
}

func TestTransport_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("请求应带 UA")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := newClient(t, Options{RetryMax: 2, Backoff: time.Millisecond})
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("期望重试后成功：%d %q", resp.StatusCode, string(b))
	}
	if calls.Load() != 3 {
		t.Fatalf("期望 3 次尝试，实际 %d", calls.Load())
	}
}

func TestTransport_ExhaustedRetriesReturnLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newClient(t, Options{RetryMax: 1, Backoff: time.Millisecond})
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || calls.Load() != 2 {
		t.Fatalf("重试用尽应返回最后一次响应：status=%d calls=%d", resp.StatusCode, calls.Load())
	}
}

func TestTransport_NoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newClient(t, Options{RetryMax: 3, Backoff: time.Millisecond})
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("404 不应重试，实际 %d 次", calls.Load())
	}
}

func TestTransport_WaitHonorsRetryAfter(t *testing.T) {
	tr := &Transport{Backoff: time.Second}
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if got := tr.wait(1, resp); got != 3*time.Second {
		t.Fatalf("应使用 Retry-After：%v", got)
	}
	if got := tr.wait(2, nil); got != 2*time.Second {
		t.Fatalf("应线性退避：%v", got)
	}
	if got := tr.wait(100, nil); got != maxBackoff {
		t.Fatalf("退避应有上限：%v", got)
	}
}
