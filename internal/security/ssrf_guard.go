// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はカタログ取り込みと表紙画像のURL検証を行う。
type SSRFGuardService interface {
	// NewSafeClient はダイヤル時に解決後のIPを検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
	// ValidateURL はカタログ取り込み元のURLを静的に検証する。
	ValidateURL(rawURL string) error
	// ValidateImageURL は読者のブラウザが直接読み込む表紙画像URLを検証する。
	ValidateImageURL(rawURL string) error
}

// urlPolicy はURLの用途ごとの許可条件。
type urlPolicy struct {
	name     string
	schemes  []string
	ports    []int
	userinfo bool
	maxLen   int
}

var (
	// catalogPolicy はサーバーがフェッチする取り込み元URLの条件。NewSafeClientと同じポートに揃える。
	catalogPolicy = urlPolicy{
		name:     "catalog source",
		schemes:  []string{"http", "https"},
		ports:    []int{80, 443},
		userinfo: true,
		maxLen:   2048,
	}
	// coverPolicy は表紙画像の条件。books.cover_url に保存されクライアントへそのまま返る。
	coverPolicy = urlPolicy{
		name:    "cover image",
		schemes: []string{"https"},
		ports:   []int{443},
		maxLen:  2048,
	}
)

// blockedPrefixes は内部ネットワークとして拒否するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// blockedHosts は名前解決前に拒否するホスト名。サブドメインも含む。
var blockedHosts = []string{
	"localhost",
	"metadata.google.internal",
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// ダイヤル時に解決済みIPを検証するため、DNS再バインディングもここで止まる。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(catalogPolicy.schemes...).
		SetAllowedPorts(catalogPolicy.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は取り込み元URLを検証する。DNS解決は行わない。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	_, err := catalogPolicy.check(rawURL)
	return err
}

// ValidateImageURL は表紙画像URLを検証する。
func (g *ssrfGuard) ValidateImageURL(rawURL string) error {
	_, err := coverPolicy.check(rawURL)
	return err
}

func (p urlPolicy) check(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty %s URL", p.name)
	}
	if p.maxLen > 0 && len(rawURL) > p.maxLen {
		return nil, fmt.Errorf("%s URL exceeds %d bytes", p.name, p.maxLen)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s URL: %w", p.name, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(p.schemes, scheme) {
		return nil, fmt.Errorf("disallowed scheme for %s: %q (allowed: %v)", p.name, scheme, p.schemes)
	}
	if parsed.User != nil && !p.userinfo {
		return nil, fmt.Errorf("%s URL must not carry credentials", p.name)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("empty host in %s URL: %s", p.name, rawURL)
	}
	if err := p.checkPort(scheme, parsed.Port()); err != nil {
		return nil, err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return nil, fmt.Errorf("blocked IP address: %s", addr)
		}
		return parsed, nil
	}
	if isBlockedHostname(host) {
		return nil, fmt.Errorf("blocked host: %s", host)
	}
	return parsed, nil
}

func (p urlPolicy) checkPort(scheme, rawPort string) error {
	port := 443
	if scheme == "http" {
		port = 80
	}
	if rawPort != "" {
		n, err := strconv.Atoi(rawPort)
		if err != nil {
			return fmt.Errorf("invalid port %q", rawPort)
		}
		port = n
	}
	if !slices.Contains(p.ports, port) {
		return fmt.Errorf("disallowed port for %s: %d (allowed: %v)", p.name, port, p.ports)
	}
	return nil
}

// isBlockedAddr はIPv4射影アドレスも含めて内部アドレスかを判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
