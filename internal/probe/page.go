package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Witriol/mediaq/internal/formats"
)

const maxPageBytes = 4 << 20

// PageProber reads OpenGraph tags from the source page. It never reports
// format candidates, only the title, thumbnail and duration.
type PageProber struct {
	HTTP      *http.Client
	UserAgent string
}

func NewPageProber() *PageProber {
	return &PageProber{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (p *PageProber) Probe(ctx context.Context, rawURL string) (*formats.Metadata, error) {
	doc, err := p.fetchDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	meta := &formats.Metadata{
		Title:     metaContent(doc, "og:title"),
		Thumbnail: metaContent(doc, "og:image"),
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	}
	for _, prop := range []string{"og:video:duration", "video:duration"} {
		if v := metaContent(doc, prop); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				meta.Duration = secs
				break
			}
		}
	}
	if meta.Title == "" && meta.Thumbnail == "" {
		return nil, fmt.Errorf("no page metadata at %s", rawURL)
	}
	return meta, nil
}

// fetchDocument fetches a URL and parses it into a goquery Document.
func (p *PageProber) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	req.Header.Set("Accept", "text/html")
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned HTTP %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"], meta[name="` + property + `"]`).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}
