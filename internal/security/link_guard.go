package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnreachableLink はリンク先が応答しない、またはエラーを返した場合のエラー。
var ErrUnreachableLink = errors.New("link is not reachable")

// LinkGuard はユーザーが登録する外部リンク（履歴書URL）の安全性を検証する。
type LinkGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	// http/https以外のスキーム、空ホスト、localhost、内部ネットワークのIPを拒否する。
	ValidateURL(rawURL string) error

	// CheckReachable はSSRF防止付きクライアントでHEADリクエストを送信し、
	// リンク先が4xx/5xx以外を返すことを確認する。
	CheckReachable(ctx context.Context, rawURL string) error
}

var linkSchemes = []string{"http", "https"}

// internalNetworks は外部リンクとして受け付けないアドレス範囲。
var internalNetworks = mustParseCIDRs(
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", // RFC 1918
	"127.0.0.0/8", "::1/128", // ループバック
	"169.254.0.0/16", "fe80::/10", // リンクローカル（メタデータIPを含む）
	"0.0.0.0/8",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// linkGuard はLinkGuardの実装。
type linkGuard struct {
	client *http.Client
}

// NewLinkGuard はLinkGuardの新しいインスタンスを生成する。
// 到達確認のHTTPクライアントはsafeurlで構築し、DNS解決後のIPも検証する。
func NewLinkGuard(timeout time.Duration) *linkGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(linkSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return &linkGuard{client: safeurl.Client(config).Client}
}

// ValidateURL はURLを静的に検証する。
func (g *linkGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && isInternalIP(ip) {
		return fmt.Errorf("blocked IP address: %s", ip.String())
	}
	return nil
}

// CheckReachable はリンク先の到達確認を行う。
func (g *linkGuard) CheckReachable(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "hirescout/1.0 (+resume-link-check)")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachableLink, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrUnreachableLink, resp.StatusCode)
	}
	return nil
}

func isInternalIP(ip net.IP) bool {
	for _, n := range internalNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
