// Package fetch implements §4.2's HttpFetcher: a small HTTP client
// specialized for model downloads, with Range-resume, retry-with-backoff,
// and a circuit breaker guarding reachability probes so a flaky mirror
// doesn't turn into a retry storm.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
)

const (
	maxRetries        = 3
	initialBackoff    = 1 * time.Second
	backoffMultiplier = 2.0
)

// Kind classifies a download failure so callers (the catalog's download
// state machine) know whether retrying is worthwhile.
type Kind int

const (
	// KindTransient covers network blips, 5xx responses, and timeouts:
	// worth retrying with backoff.
	KindTransient Kind = iota
	// KindPermanent covers 4xx responses other than 408/429: retrying
	// won't help without user intervention.
	KindPermanent
)

// Error wraps a download failure with its classification.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func classify(statusCode int, err error) *Error {
	if statusCode == 0 {
		return &Error{Kind: KindTransient, Err: err}
	}
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
	case statusCode >= 500:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
	case statusCode >= 400:
		return &Error{Kind: KindPermanent, StatusCode: statusCode, Err: err}
	default:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
	}
}

// ProgressFunc is invoked periodically during Download with the number of
// bytes written so far and the total expected (0 if unknown).
type ProgressFunc func(written, total int64)

// Fetcher is an HttpFetcher: GET/POST/stream plus a resumable
// Download, with a circuit breaker guarding the Reachable probe. Download
// does not go through Reachable or the breaker.
type Fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// New builds a Fetcher. A nil client gets one with a 30-second overall
// timeout, which bounds Get, Post, PostStream and Reachable. Download
// attempts run without the client's timeout and are bounded only by ctx, so
// multi-gigabyte transfers are not cut off.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	settings := gobreaker.Settings{
		Name:        "fetch.reachable",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Fetcher{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Get issues a plain GET and returns the response body's bytes.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, fmt.Errorf("GET %s: %s", url, resp.Status))
	}
	return io.ReadAll(resp.Body)
}

// Post issues a POST with a JSON-ish body and returns the response bytes.
func (f *Fetcher) Post(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	resp, err := f.PostStream(ctx, url, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// PostStream issues a POST and returns the live response body for callers
// that want to stream it onward (SSE pass-through in the gateway).
func (f *Fetcher) PostStream(ctx context.Context, url, contentType string, body io.Reader) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(0, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify(resp.StatusCode, fmt.Errorf("POST %s: %s: %s", url, resp.Status, string(b)))
	}
	return resp.Body, nil
}

// Reachable probes url with a HEAD request, tripping a circuit breaker after
// repeated consecutive failures so a dead mirror stops being hammered.
func (f *Fetcher) Reachable(ctx context.Context, url string) (bool, error) {
	_, err := f.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return resp, fmt.Errorf("HEAD %s: %s", url, resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Download fetches url into destPath, resuming a non-empty destPath file via
// a Range request (a server that answers 200 instead of 206 has the file
// rewritten from the start), retrying transient failures with exponential
// backoff. An HTTP 416 in response to a
// resume attempt means the file is already complete and is treated as
// success. progress, if non-nil, is invoked after every chunk write.
func (f *Fetcher) Download(ctx context.Context, url, destPath string, progress ProgressFunc) error {
	var offset int64
	if fi, err := os.Stat(destPath); err == nil {
		offset = fi.Size()
	}

	var attempt int
	for {
		err := f.downloadAttempt(ctx, url, destPath, offset, progress)
		if err == nil {
			return nil
		}

		var fe *Error
		if errors.As(err, &fe) && fe.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			// The range we asked for starts past EOF on the server's copy,
			// which for an exact-resume request means we already have it all.
			return nil
		}

		if !isRetryable(err) || attempt >= maxRetries {
			return err
		}

		if fi, statErr := os.Stat(destPath); statErr == nil {
			offset = fi.Size()
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffMultiplier, float64(attempt)))
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func isRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	return true
}

func (f *Fetcher) downloadAttempt(ctx context.Context, url, destPath string, offset int64, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	// The client's overall timeout would cut a long transfer off mid-body,
	// so an attempt is bounded by ctx alone.
	client := *f.client
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return classify(0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return classify(resp.StatusCode, fmt.Errorf("range not satisfiable"))
	default:
		if resp.StatusCode >= 400 {
			return classify(resp.StatusCode, fmt.Errorf("GET %s: %s", url, resp.Status))
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}

	out, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening destination")
	}
	defer out.Close()

	total := offset + resp.ContentLength
	written := offset
	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "writing destination")
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return classify(0, readErr)
		}
	}
}
