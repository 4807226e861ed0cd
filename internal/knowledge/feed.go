package knowledge

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const (
	maxFeedItems = 20
	// Descriptions shorter than this are replaced by the linked page's text
	// when link fetching is on.
	minDescription = 200
	maxPageChars   = 8000
	pageTimeout    = 15 * time.Second
)

// feedHeader is the column layout of a feed table.
var feedHeader = []string{"title", "link", "published", "description"}

// Feed is a tabular source backed by an RSS or Atom feed, one row per item.
// With FetchLinks set, items with a thin description get the readable text
// of the page they link to instead.
type Feed struct {
	URL        string
	FetchLinks bool
	parser     *gofeed.Parser
	client     *http.Client
}

// NewFeed creates a feed-backed table.
func NewFeed(feedURL string, fetchLinks bool) *Feed {
	return &Feed{
		URL:        feedURL,
		FetchLinks: fetchLinks,
		parser:     gofeed.NewParser(),
		client: &http.Client{
			Timeout: pageTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (f *Feed) LoadTable(ctx context.Context) (*Table, error) {
	feed, err := f.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, err
	}

	failedHosts := make(map[string]bool)
	var rows [][]string
	for _, item := range feed.Items {
		if len(rows) >= maxFeedItems {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		link := item.Link
		if link == "" {
			link = item.GUID
		}

		var published string
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.Format("2006-01-02")
		} else if item.UpdatedParsed != nil {
			published = item.UpdatedParsed.Format("2006-01-02")
		}

		body := item.Description
		if body == "" {
			body = item.Content
		}
		description := stripHTML(body)
		if f.FetchLinks && len(description) < minDescription {
			if page := f.pageText(ctx, link, failedHosts); page != "" {
				description = page
			}
		}
		rows = append(rows, []string{title, link, published, description})
	}
	return newTable(feedHeader, rows), nil
}

// pageText fetches link and extracts its readable text. Failures are logged
// and yield ""; a host that failed once is not tried again in this load.
func (f *Feed) pageText(ctx context.Context, link string, failedHosts map[string]bool) string {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	host := strings.ToLower(u.Host)
	if failedHosts[host] {
		return ""
	}

	text, err := f.fetchReadable(ctx, u)
	if err != nil {
		log.Printf("Fetching %s failed, skipping remaining links from %s: %v", link, host, err)
		failedHosts[host] = true
		return ""
	}
	if r := []rune(text); len(r) > maxPageChars {
		text = string(r[:maxPageChars])
	}
	return text
}

func (f *Feed) fetchReadable(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ubot/1.0 (release notes reader)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(article.TextContent), " "), nil
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<",
		"&gt;", ">", "&quot;", `"`, "&#39;", "'",
	).Replace(b.String())
	return strings.Join(strings.Fields(s), " ")
}
