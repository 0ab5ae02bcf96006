package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/shelfmate/internal/model"
)

const (
	detectTimeout     = 10 * time.Second
	detectMaxBodySize = 5 * 1024 * 1024
	userAgent         = "Shelfmate/1.0 Catalog Ingest"
)

// FeedKind はカタログフィードの形式を表す。
type FeedKind string

const (
	FeedKindRSS  FeedKind = "rss"
	FeedKindAtom FeedKind = "atom"
)

// SourceCandidate は出版社サイトなどのHTMLから検出したフィード候補。
type SourceCandidate struct {
	URL   string
	Kind  FeedKind
	Title string
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// SourceDetector は入力URLからカタログ用のRSS/Atomフィードを検出する。
type SourceDetector struct {
	ssrfGuard SSRFValidator
}

// NewSourceDetector はSourceDetectorを生成する。
func NewSourceDetector(ssrfGuard SSRFValidator) *SourceDetector {
	return &SourceDetector{ssrfGuard: ssrfGuard}
}

var (
	feedMediaTypes = []string{"application/rss+xml", "application/atom+xml"}
	xmlMediaTypes  = []string{"text/xml", "application/xml"}
)

// IsFeedResponse はContent-Typeとボディからレスポンスがフィードかを判定する。
// 汎用XMLのContent-Typeの場合は先頭4KBのルート要素で判定する。
func IsFeedResponse(contentType string, body []byte) bool {
	mediaType := parseMediaType(contentType)

	for _, ct := range feedMediaTypes {
		if mediaType == ct {
			return true
		}
	}

	generic := false
	for _, ct := range xmlMediaTypes {
		if mediaType == ct {
			generic = true
			break
		}
	}
	if !generic || len(body) == 0 {
		return false
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	prefix := strings.ToLower(string(head))
	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

func parseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
		mediaType = strings.TrimSpace(mediaType)
	}
	return strings.ToLower(mediaType)
}

// ParseSourceLinks はHTMLのhead内の<link rel="alternate">からフィード候補を抽出する。
// 相対URLはbaseURLで解決する。
func ParseSourceLinks(htmlBody []byte, baseURL string) []SourceCandidate {
	var candidates []SourceCandidate

	base, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates

		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "head" {
				return candidates
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch string(tn) {
			case "head":
				inHead = true
				continue
			case "body":
				return candidates
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, typ, href, title string
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
			}
			if rel != "alternate" || href == "" {
				continue
			}

			var kind FeedKind
			switch typ {
			case "application/rss+xml":
				kind = FeedKindRSS
			case "application/atom+xml":
				kind = FeedKindAtom
			default:
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			candidates = append(candidates, SourceCandidate{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: title,
			})
		}
	}
}

// SelectSource は候補から1つを選ぶ。優先順位: 同一ホスト > Atom > 出現順。
func SelectSource(candidates []SourceCandidate, inputURL string) *SourceCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := hostOf(inputURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == inputHost {
			score += 100
		}
		if c.Kind == FeedKindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &candidates[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DetectSourceURL は入力URLがフィードならそのまま、HTMLならhead内のフィードリンクを返す。
func (d *SourceDetector) DetectSourceURL(ctx context.Context, inputURL string) (string, error) {
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}
	if d.ssrfGuard != nil {
		if err := d.ssrfGuard.ValidateURL(inputURL); err != nil {
			return "", model.NewSSRFBlockedError()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", model.NewSourceFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", model.NewSourceFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, detectMaxBodySize))
	if err != nil {
		return "", model.NewSourceFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if IsFeedResponse(contentType, body) {
		return inputURL, nil
	}
	if !strings.Contains(parseMediaType(contentType), "html") {
		return "", model.NewSourceNotDetectedError(inputURL)
	}

	best := SelectSource(ParseSourceLinks(body, inputURL), inputURL)
	if best == nil {
		return "", model.NewSourceNotDetectedError(inputURL)
	}
	return best.URL, nil
}

func (d *SourceDetector) httpClient() *http.Client {
	if d.ssrfGuard != nil {
		return d.ssrfGuard.NewSafeClient(detectTimeout, detectMaxBodySize)
	}
	return &http.Client{Timeout: detectTimeout}
}
