package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/httpclient"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

const maxFetchBodySize = 8 << 20

// Fetcher loads the full notification list of a user.
type Fetcher interface {
	Fetch(ctx context.Context, userID string) ([]*Record, error)
}

// HTTPFetcher reads notifications from the REST backend at
// GET <base>/notifications/user/<userId>.
type HTTPFetcher struct {
	client     *httpclient.Client
	normalizer *Normalizer
	log        logger.Logger
	metrics    *metrics.NotificationMetrics
}

// NewHTTPFetcher creates a fetcher over client.
func NewHTTPFetcher(client *httpclient.Client, n *Normalizer, log logger.Logger, m *metrics.NotificationMetrics) *HTTPFetcher {
	if n == nil {
		n = defaultNormalizer
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &HTTPFetcher{client: client, normalizer: n, log: log.Module("fetcher"), metrics: m}
}

// Fetch implements Fetcher. Items that fail to normalize are logged and skipped.
func (f *HTTPFetcher) Fetch(ctx context.Context, userID string) ([]*Record, error) {
	start := time.Now()
	records, err := f.fetch(ctx, userID)
	result := "success"
	if err != nil {
		result = "error"
	}
	f.metrics.RecordFetch(result, time.Since(start))
	return records, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, userID string) ([]*Record, error) {
	if userID == "" {
		return nil, errors.Newf("user id is required to fetch notifications").
			Component("notification").
			Category(errors.CategoryFetch).
			Build()
	}

	path := "notifications/user/" + url.PathEscape(userID)
	resp, err := f.client.Get(ctx, path)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryFetch).
			Context("operation", "fetch_notifications").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxFetchBodySize))
		return nil, errors.Newf("notification fetch returned HTTP %d", resp.StatusCode).
			Component("notification").
			Category(errors.CategoryFetch).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading notification response: %w", err)).
			Component("notification").
			Category(errors.CategoryFetch).
			Build()
	}

	records, errs := f.normalizer.NormalizeBatch(SourceAPI, body)
	if records == nil {
		return nil, errors.New(errors.Join(errs...)).
			Component("notification").
			Category(errors.CategoryFetch).
			Context("operation", "decode_notifications").
			Build()
	}
	for _, err := range errs {
		f.log.Warn("skipping malformed notification", logger.Error(err))
	}

	f.log.Debug("notifications fetched",
		logger.Int("count", len(records)),
		logger.Int("skipped", len(errs)))
	return records, nil
}
