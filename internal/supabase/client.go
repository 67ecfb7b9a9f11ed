// Package supabase はホスティング型の認証サービス（GoTrue）とデータAPI（PostgREST）の
// HTTPクライアントを提供する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// defaultTimeout はHTTPクライアント未指定時のタイムアウト。
	defaultTimeout = 10 * time.Second
	// maxResponseSize はレスポンスボディの最大サイズ。
	maxResponseSize = 4 * 1024 * 1024
	userAgent       = "hirescout/1.0"
)

// Config は接続先プロジェクトの設定を保持する。
type Config struct {
	URL        string       // プロジェクトのベースURL（例: https://xyz.supabase.co）
	AnonKey    string       // 公開用APIキー
	JWTSecret  string       // 設定されている場合はアクセストークンの署名を検証する
	HTTPClient *http.Client // nilの場合はdefaultTimeoutのクライアントを使用
	Logger     *slog.Logger
}

// transport はAPIキーと認証ヘッダーを付与してJSONリクエストを送る共通処理。
type transport struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func newTransport(cfg Config) (*transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase anon key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid supabase URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid supabase URL scheme: %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &transport{
		baseURL:    base,
		apiKey:     cfg.AnonKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// request は1回のAPI呼び出しの内容。
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	bearer  string // 空の場合はAPIキーを使用
	headers map[string]string
}

// do はリクエストを送信し、2xxの場合はレスポンスをoutへデコードする。
// 2xx以外は*Errorを返す。
func (t *transport) do(ctx context.Context, r request, out any) error {
	u := *t.baseURL
	u.Path = u.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	bearer := r.bearer
	if bearer == "" {
		bearer = t.apiKey
	}
	req.Header.Set("apikey", t.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("User-Agent", userAgent)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("外部APIの呼び出しに失敗しました",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, respBody)
		t.logger.Debug("外部APIがエラーステータスを返しました",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
