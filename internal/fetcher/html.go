package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/pkg/failure"
	"github.com/arlowright/oddcrawl/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses

Fetch Semantics

- Only successful HTML responses are processed
- Non-HTML content is discarded
- Redirect chains are bounded
- All responses are logged with metadata

The fetcher never parses content beyond its MIME type; it returns bytes
and metadata for the triage cascade to act on.
*/

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string
	viaTor       bool
}

func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	return HtmlFetcher{
		metadataSink: metadataSink,
		httpClient:   &http.Client{},
	}
}

// Init wires the transport and identifying User-Agent string this
// fetcher presents to remote hosts.
func (h *HtmlFetcher) Init(httpClient *http.Client, userAgent string) {
	h.httpClient = httpClient
	h.userAgent = userAgent
}

// SetViaTor marks subsequent fetches as routed through a Tor/proxy
// transport, so FetchResult.ViaTor() reflects it for telemetry. The
// caller (runloop, acting on internal/safety's host gate) is responsible
// for actually swapping h.httpClient's Transport beforehand.
func (h *HtmlFetcher) SetViaTor(viaTor bool) {
	h.viaTor = viaTor
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchUrl url.URL,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, attempts, err := h.fetchWithRetry(ctx, fetchUrl, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string

	if err == nil {
		statusCode = result.Code()
		contentType = h.extractContentType(result.Headers())
		result.fetchedAt = time.Now()
		result.duration = duration
		result.viaTor = h.viaTor
	}

	h.metadataSink.RecordFetch(
		fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		attempts,
		crawlDepth,
	)

	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			h.recordRetryError(callerMethod, fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchUrl, err)
		}

		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) extractContentType(headers map[string]string) string {
	if ct, ok := headers["Content-Type"]; ok {
		return ct
	}
	return ""
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

// fetchWithRetry runs performFetch under the retry policy and reports how
// many attempts were actually made, so telemetry can record real retry
// counts instead of the configured ceiling.
func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchUrl url.URL, retryParam retry.RetryParam) (FetchResult, int, failure.ClassifiedError) {
	attempts := 0
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		attempts++
		return h.performFetch(ctx, fetchUrl)
	}

	outcome := retry.Retry(retryParam, fetchTask)

	if outcome.IsFailure() {
		retryErr := outcome.Err()
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, attempts, fetchErr
		}
		return FetchResult{}, attempts, retryErr
	}

	return outcome.Value(), attempts, nil
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchUrl url.URL) (FetchResult, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	headers := requestHeaders(h.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("server error: %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Cause:      ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		return FetchResult{}, &FetchError{
			Message:    "rate limited (429)",
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Cause:      ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		return FetchResult{}, &FetchError{
			Message:    "access forbidden (403)",
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Cause:      ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("client error: %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Cause:      ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("redirect error: %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Cause:      ErrCauseRedirectLimitExceeded,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContent(contentType) {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("non-HTML content type: %s", contentType),
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Cause:      ErrCauseContentTypeInvalid,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Cause:      ErrCauseReadResponseBodyError,
		}
	}

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	result := FetchResult{
		url:  fetchUrl,
		body: body,
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			responseHeaders: responseHeaders,
		},
	}

	return result, nil
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
