// Package parser extracts page data from navigation responses.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-session/models"
)

// DefaultCacheSize is the number of parsed documents kept by New(0).
const DefaultCacheSize = 256

// Parser turns response bodies into goquery documents. Documents are cached
// by the hash of the body, so identical pages are parsed once. A Parser is
// safe for concurrent use; cached documents must only be read.
type Parser struct {
	cache  *lru.Cache[uint64, *goquery.Document]
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a parser caching up to size documents.
func New(size int) (*Parser, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uint64, *goquery.Document](size)
	if err != nil {
		return nil, fmt.Errorf("document cache: %w", err)
	}
	return &Parser{cache: cache}, nil
}

// Document parses body, reusing the cached document of an identical body.
func (p *Parser) Document(body []byte) (*goquery.Document, error) {
	key := xxhash.Sum64(body)
	if doc, ok := p.cache.Get(key); ok {
		p.hits.Add(1)
		return doc, nil
	}
	p.misses.Add(1)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	p.cache.Add(key, doc)
	return doc, nil
}

// Title returns the normalized <title> of the page, empty when the body is
// not HTML.
func (p *Parser) Title(resp *models.Response) string {
	if resp == nil || len(resp.Body) == 0 {
		return ""
	}
	doc, err := p.Document(resp.Body)
	if err != nil {
		return ""
	}
	return NormalizeTitle(doc.Find("title").First().Text())
}

// Links returns the absolute http(s) targets of every anchor on the page,
// in document order and without duplicates.
func (p *Parser) Links(resp *models.Response) ([]string, error) {
	if resp == nil || len(resp.Body) == 0 {
		return nil, nil
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", resp.URL, err)
	}
	doc, err := p.Document(resp.Body)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

// CacheStats returns the number of cache hits and misses.
func (p *Parser) CacheStats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}

// NormalizeTitle collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// ValidateVisit ensures a visit carries the fields every writer needs.
func ValidateVisit(v *models.Visit) error {
	if v == nil {
		return fmt.Errorf("visit is nil")
	}
	if strings.TrimSpace(v.URL) == "" {
		return fmt.Errorf("visit missing url")
	}
	if v.Backend == "" {
		return fmt.Errorf("visit missing backend for %s", v.URL)
	}
	if v.VisitedAt.IsZero() {
		return fmt.Errorf("visit missing timestamp for %s", v.URL)
	}
	if v.Error == "" && v.ErrorKind != "" {
		return fmt.Errorf("visit %s has an error kind without an error", v.URL)
	}
	return nil
}
