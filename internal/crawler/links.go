package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageInfo is what the crawler reads out of a rendered page.
type PageInfo struct {
	Title    string
	Language string
	Links    []string
}

// ExtractPage parses rendered HTML and collects its title, language and
// outbound links resolved against pageURL.
func ExtractPage(pageURL, html string) (PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageInfo{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return PageInfo{}, fmt.Errorf("%w: parse page url: %w", ErrParse, err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, perr := url.Parse(strings.TrimSpace(href)); perr == nil {
			base = base.ResolveReference(ref)
		}
	}

	info := PageInfo{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Language: pageLanguage(doc, pageURL),
		Links:    extractLinks(doc, base),
	}
	return info, nil
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := ResolveLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// pageLanguage prefers <html lang>, then a /fr path segment, then English.
func pageLanguage(doc *goquery.Document, pageURL string) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		lang = strings.TrimSpace(lang)
		if lang != "" {
			return strings.ToLower(lang)
		}
	}
	u, err := url.Parse(pageURL)
	if err == nil {
		for _, segment := range strings.Split(u.Path, "/") {
			if strings.EqualFold(segment, "fr") {
				return "fr"
			}
		}
	}
	return "en"
}
