package ingest

import (
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/repository"
)

// Sanitizer は取り込んだテキストからマークアップを除去するインターフェース。
type Sanitizer interface {
	StripMarkup(raw string) string
}

// ImageValidator は表紙画像URLを検証するインターフェース。
type ImageValidator interface {
	ValidateImageURL(rawURL string) error
}

// Converter はgofeedの記事を書籍に変換する。
type Converter struct {
	sanitizer Sanitizer
	images    ImageValidator
}

// NewConverter はConverterを生成する。imagesがnilの場合は表紙URLを検証しない。
func NewConverter(sanitizer Sanitizer, images ImageValidator) *Converter {
	return &Converter{sanitizer: sanitizer, images: images}
}

// Convert はフィード内の記事を書籍に変換する。
// タイトルまたは識別子（GUID/リンク）のない記事は除外する。
func (c *Converter) Convert(feed *gofeed.Feed) []*model.Book {
	if feed == nil {
		return nil
	}
	books := make([]*model.Book, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if b := c.convertItem(item, feed.Language); b != nil {
			books = append(books, b)
		}
	}
	return books
}

func (c *Converter) convertItem(item *gofeed.Item, language string) *model.Book {
	title := c.sanitizer.StripMarkup(item.Title)
	if title == "" {
		return nil
	}
	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = strings.TrimSpace(item.Link)
	}
	if guid == "" {
		return nil
	}

	book := &model.Book{
		Title:      title,
		Authors:    itemAuthors(item),
		ISBN:       itemISBNs(item),
		PageCount:  customInt(item, "num_pages"),
		CoverImage: c.coverImage(item),
		Summary:    c.sanitizer.StripMarkup(item.Description),
		GenreTags:  genreTags(item.Categories),
		Language:   language,
		SourceGUID: guid,
	}
	if book.Summary == "" {
		book.Summary = c.sanitizer.StripMarkup(item.Content)
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Publisher) > 0 {
		book.Publisher = strings.TrimSpace(item.DublinCoreExt.Publisher[0])
	}
	if item.PublishedParsed != nil {
		book.PublicationDate = item.PublishedParsed.Format("2006-01-02")
	}
	return book
}

// itemAuthors は著者名を重複なく返す。dc:creatorも参照する。
func itemAuthors(item *gofeed.Item) []string {
	var names []string
	for _, a := range item.Authors {
		if a != nil {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 && item.Author != nil {
		names = append(names, item.Author.Name)
	}
	if item.DublinCoreExt != nil {
		names = append(names, item.DublinCoreExt.Creator...)
	}
	if v := item.Custom["author_name"]; v != "" {
		names = append(names, v)
	}
	return dedupe(names, false)
}

// itemISBNs はurn:isbn: GUID、dc:identifier、isbn/isbn13要素からISBNを集める。
func itemISBNs(item *gofeed.Item) []string {
	candidates := []string{item.GUID, item.Custom["isbn"], item.Custom["isbn13"]}
	if item.DublinCoreExt != nil {
		candidates = append(candidates, item.DublinCoreExt.Identifier...)
	}

	var isbns []string
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		lower := strings.ToLower(raw)
		switch {
		case strings.HasPrefix(lower, "urn:isbn:"):
			raw = raw[len("urn:isbn:"):]
		case strings.HasPrefix(lower, "isbn:"):
			raw = raw[len("isbn:"):]
		case raw == item.GUID:
			// GUIDはurn:isbn:形式の場合のみISBNとして扱う
			continue
		}
		if n := repository.NormalizeISBN(raw); n != "" {
			isbns = append(isbns, n)
		}
	}
	return dedupe(isbns, false)
}

// coverImage は表紙画像URLを返す。item image、画像enclosure、説明文中の最初の<img>の順に探す。
// 検証に通らないURLは採用しない。
func (c *Converter) coverImage(item *gofeed.Item) string {
	var candidates []string
	if item.Image != nil {
		candidates = append(candidates, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			candidates = append(candidates, enc.URL)
		}
	}
	if v := item.Custom["book_large_image_url"]; v != "" {
		candidates = append(candidates, v)
	}
	candidates = append(candidates, firstImageSrc(item.Description), firstImageSrc(item.Content))

	for _, u := range candidates {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if c.images != nil && c.images.ValidateImageURL(u) != nil {
			continue
		}
		return u
	}
	return ""
}

// firstImageSrc はHTML断片の最初の<img>のsrc属性を返す。
func firstImageSrc(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "img" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "src" {
					return string(val)
				}
				if !more {
					break
				}
			}
		}
	}
}

// genreTags はカテゴリを小文字化し、重複を除いたジャンルタグにする。
func genreTags(categories []string) []string {
	return dedupe(categories, true)
}

func customInt(item *gofeed.Item, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(item.Custom[key]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func dedupe(values []string, lower bool) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
