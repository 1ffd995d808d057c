package maccms

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/providers/common"
)

var (
	genericDetailEpisodePattern = regexp.MustCompile(`\$(https?://[^"'\s]+?\.m3u8)`)
	// Some sources embed thumbnails and ad playlists in the page, so only
	// their dated segment layout is trusted.
	sourceDetailEpisodePatterns = map[string]*regexp.Regexp{
		"ffzy": regexp.MustCompile(`\$(https?://[^"'\s]+?/\d{8}/\d+_[a-f0-9]+/index\.m3u8)`),
	}
	detailCoverPattern = regexp.MustCompile(`(https?://[^"'\s]+?\.jpg)`)
	detailYearPattern  = regexp.MustCompile(`>(\d{4})<`)
)

const (
	detailRetryAttempts = 2
	detailRetryDelay    = 200 * time.Millisecond
)

// Detail resolves one item of a source. Sources with a detail page are
// scraped; all others go through the structured detail endpoint. Every
// failure wraps domain.ErrDetailFetch.
func (c *Client) Detail(ctx context.Context, source domain.Source, id string, timeout time.Duration) (domain.SearchResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SearchResult{}, fmt.Errorf("%w: empty id", domain.ErrDetailFetch)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	if source.ScrapesDetail() {
		return c.scrapeDetail(ctx, source, id, timeout)
	}
	return c.structuredDetail(ctx, source, id, timeout)
}

func (c *Client) structuredDetail(ctx context.Context, source domain.Source, id string, timeout time.Duration) (domain.SearchResult, error) {
	uri := source.DetailURL(id)

	var (
		body   []byte
		status int
	)
	err := retry.Do(
		func() error {
			var err error
			body, status, err = c.get(ctx, source.Key, uri, timeout, acceptJSON)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(detailRetryAttempts),
		retry.Delay(detailRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return domain.ReasonOf(err) == domain.FailureNetwork
		}),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Debug("retrying detail request",
				slog.String("source", source.Key),
				slog.String("id", id),
				slog.Uint64("attempt", uint64(attempt)+1),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: %w", domain.ErrDetailFetch, source.Key, err)
	}
	if status < 200 || status > 299 {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: detail HTTP %d", domain.ErrDetailFetch, source.Key, status)
	}
	if !gjson.ValidBytes(body) {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: invalid JSON payload", domain.ErrDetailFetch, source.Key)
	}

	list := gjson.GetBytes(body, "list")
	if !list.IsArray() || len(list.Array()) == 0 {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: empty detail list", domain.ErrDetailFetch, source.Key)
	}

	result := itemToResult(list.Array()[0], source)
	result.ID = id
	return result, nil
}

func (c *Client) scrapeDetail(ctx context.Context, source domain.Source, id string, timeout time.Duration) (domain.SearchResult, error) {
	body, status, err := c.get(ctx, source.Key, source.DetailPageURL(id), timeout, acceptHTML)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: %w", domain.ErrDetailFetch, source.Key, err)
	}
	if status < 200 || status > 299 {
		return domain.SearchResult{}, fmt.Errorf("%w: %s: detail page HTTP %d", domain.ErrDetailFetch, source.Key, status)
	}

	page := string(body)
	episodes := extractDetailEpisodes(source.Key, page)
	title, desc := parseDetailText(body)

	year := domain.UnknownYear
	if match := detailYearPattern.FindStringSubmatch(page); len(match) == 2 {
		year = match[1]
	}

	return domain.SearchResult{
		ID:            id,
		Title:         title,
		Poster:        detailCoverPattern.FindString(page),
		Episodes:      episodes,
		EpisodeTitles: numberedTitles(len(episodes)),
		Source:        source.Key,
		SourceName:    source.Name,
		Year:          year,
		Desc:          desc,
	}, nil
}

func extractDetailEpisodes(sourceKey, page string) []string {
	var matches []string
	if pattern, ok := sourceDetailEpisodePatterns[sourceKey]; ok {
		matches = pattern.FindAllString(page, -1)
	}
	if len(matches) == 0 {
		matches = genericDetailEpisodePattern.FindAllString(page, -1)
	}

	episodes := lo.Map(lo.Uniq(matches), func(link string, _ int) string {
		link = strings.TrimPrefix(link, labelSeparator)
		if idx := strings.Index(link, "("); idx > 0 {
			link = link[:idx]
		}
		return link
	})
	if len(episodes) > 0 {
		return episodes
	}

	fallback, _ := ParseEpisodes("", page)
	return fallback
}

func parseDetailText(body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title := common.CollapseSpaces(doc.Find("h1").First().Text())
	desc := common.CollapseSpaces(doc.Find("div.sketch").First().Text())
	return title, desc
}
