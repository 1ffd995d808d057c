package maccms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/tidwall/gjson"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
	"vodstream/searchservice/internal/providers/common"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; vodstream-search/1.0)"
	defaultTimeout   = 3000 * time.Millisecond
	maxPayloadBytes  = 8 * 1024 * 1024

	acceptJSON = "application/json"
	acceptHTML = "text/html,application/xhtml+xml"
)

type Config struct {
	UserAgent string
	Client    *http.Client
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Client talks to MacCMS-compatible collection APIs.
type Client struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
}

// Stream yields the result pages of one source for a query. The first page is
// fetched alone; its pagecount decides how many more pages are requested, up
// to MaxPages. A fatal first-page error is delivered as a single Page with Err
// set. A non-2xx first page or a payload without a list closes the channel
// without any page. Failures of later pages are skipped.
//
// The channel is closed when the sequence ends or ctx is done.
func (c *Client) Stream(ctx context.Context, source domain.Source, query string, opts domain.StreamOptions) <-chan domain.Page {
	out := make(chan domain.Page)
	go func() {
		defer close(out)
		c.produce(ctx, source, query, opts, out)
	}()
	return out
}

func (c *Client) produce(ctx context.Context, source domain.Source, query string, opts domain.StreamOptions, out chan<- domain.Page) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	first, err := c.fetchPage(ctx, source, source.SearchURL(query), timeout)
	if err != nil {
		sendPage(ctx, out, domain.Page{Number: 1, Err: err})
		return
	}
	if first == nil {
		return
	}
	if !sendPage(ctx, out, domain.Page{Number: 1, Results: first.results}) {
		return
	}

	last := first.pageCount
	if opts.MaxPages > 0 && last > opts.MaxPages {
		last = opts.MaxPages
	}
	if last <= 1 {
		return
	}

	numbers := make([]int, 0, last-1)
	for page := 2; page <= last; page++ {
		numbers = append(numbers, page)
	}

	if !opts.Parallel {
		for _, page := range numbers {
			results := c.fetchLaterPage(ctx, source, query, page, timeout)
			if len(results) == 0 {
				continue
			}
			if !sendPage(ctx, out, domain.Page{Number: page, Results: results}) {
				return
			}
		}
		return
	}

	mapper := iter.Mapper[int, []domain.SearchResult]{MaxGoroutines: len(numbers)}
	batches := mapper.Map(numbers, func(page *int) []domain.SearchResult {
		return c.fetchLaterPage(ctx, source, query, *page, timeout)
	})
	for i, results := range batches {
		if len(results) == 0 {
			continue
		}
		if !sendPage(ctx, out, domain.Page{Number: numbers[i], Results: results}) {
			return
		}
	}
}

func (c *Client) fetchLaterPage(ctx context.Context, source domain.Source, query string, page int, timeout time.Duration) []domain.SearchResult {
	payload, err := c.fetchPage(ctx, source, source.PageURL(query, page), timeout)
	if err != nil {
		c.logger.Debug("source page skipped",
			slog.String("source", source.Key),
			slog.Int("page", page),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if payload == nil {
		return nil
	}
	return payload.results
}

func sendPage(ctx context.Context, out chan<- domain.Page, page domain.Page) bool {
	select {
	case out <- page:
		return true
	case <-ctx.Done():
		return false
	}
}

type pagePayload struct {
	results   []domain.SearchResult
	pageCount int
}

// fetchPage returns nil payload without error for non-2xx statuses and for
// JSON that carries no list array.
func (c *Client) fetchPage(ctx context.Context, source domain.Source, uri string, timeout time.Duration) (*pagePayload, error) {
	body, status, err := c.get(ctx, source.Key, uri, timeout, acceptJSON)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, &domain.FetchError{
			Reason: domain.FailureUnknown,
			URL:    uri,
			Err:    errors.New("invalid JSON payload"),
		}
	}

	list := gjson.GetBytes(body, "list")
	if !list.IsArray() {
		return nil, nil
	}

	items := list.Array()
	results := make([]domain.SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, itemToResult(item, source))
	}

	pageCount := int(gjson.GetBytes(body, "pagecount").Int())
	if pageCount < 1 {
		pageCount = 1
	}
	return &pagePayload{results: results, pageCount: pageCount}, nil
}

func itemToResult(item gjson.Result, source domain.Source) domain.SearchResult {
	content := item.Get("vod_content").String()
	episodes, titles := ParseEpisodes(item.Get("vod_play_url").String(), content)
	return domain.SearchResult{
		ID:            item.Get("vod_id").String(),
		Title:         common.CollapseSpaces(item.Get("vod_name").String()),
		Poster:        strings.TrimSpace(item.Get("vod_pic").String()),
		Episodes:      episodes,
		EpisodeTitles: titles,
		Source:        source.Key,
		SourceName:    source.Name,
		Class:         strings.TrimSpace(item.Get("vod_class").String()),
		Year:          common.ExtractYear(item.Get("vod_year").String()),
		Desc:          common.CleanHTMLText(content),
		TypeName:      strings.TrimSpace(item.Get("type_name").String()),
		DoubanID:      int(item.Get("vod_douban_id").Int()),
	}
}

// get performs one bounded upstream GET. Transport problems come back as
// *domain.FetchError; an HTTP status is never an error here.
func (c *Client) get(ctx context.Context, sourceKey, uri string, timeout time.Duration, accept string) ([]byte, int, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, uri, nil)
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(sourceKey, "error").Inc()
		return nil, 0, &domain.FetchError{Reason: domain.FailureUnknown, URL: uri, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		fetchErr := classifyFetchError(callCtx, uri, err)
		metrics.SourceRequestsTotal.WithLabelValues(sourceKey, string(fetchErr.Reason)).Inc()
		metrics.SourceRequestDuration.WithLabelValues(sourceKey).Observe(time.Since(start).Seconds())
		return nil, 0, fetchErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	metrics.SourceRequestDuration.WithLabelValues(sourceKey).Observe(time.Since(start).Seconds())
	if err != nil {
		fetchErr := classifyFetchError(callCtx, uri, err)
		metrics.SourceRequestsTotal.WithLabelValues(sourceKey, string(fetchErr.Reason)).Inc()
		return nil, 0, fetchErr
	}

	status := "ok"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	metrics.SourceRequestsTotal.WithLabelValues(sourceKey, status).Inc()
	return body, resp.StatusCode, nil
}

func classifyFetchError(callCtx context.Context, uri string, err error) *domain.FetchError {
	return &domain.FetchError{Reason: classifyReason(callCtx, err), URL: uri, Err: err}
}

func classifyReason(callCtx context.Context, err error) domain.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.FailureUnknown
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &addrErr):
		return domain.FailureNetwork
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return domain.FailureNetwork
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.FailureNetwork
	}
	return domain.FailureUnknown
}
