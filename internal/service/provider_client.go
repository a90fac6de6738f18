package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// maxErrorBody bounds how much of a provider error body is read for parsing.
const maxErrorBody = 64 << 10

// ProviderHTTPError is a non-2xx provider response with its parsed body.
type ProviderHTTPError struct {
	Op       string
	Status   int
	Provider *apperrors.ProviderError
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Provider.String())
}

// NewStreamingClient returns a client for long body transfers. It has no
// whole-request timeout; headerTimeout bounds the wait for response headers
// and the request context bounds the rest.
func NewStreamingClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = time.Second
	return &http.Client{Transport: transport}
}

// providerClient is an http.Client behind a circuit breaker. Transport errors
// and 5xx responses count as breaker failures.
type providerClient struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newProviderClient(name string, httpClient *http.Client, logger *slog.Logger) *providerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &providerClient{
		name:    name,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  logger,
	}
}

// withRateLimit paces outbound requests to rps with the given burst.
func (c *providerClient) withRateLimit(rps float64, burst int) *providerClient {
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

type serverError struct {
	status int
	body   []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("provider returned %d", e.status)
}

// do sends req and returns any response below 500. The caller closes the body.
func (c *providerClient) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(c.name, op).Observe(time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &serverError{status: resp.StatusCode, body: body}
		}
		return resp, nil
	})
	if err != nil {
		var se *serverError
		if errors.As(err, &se) {
			return nil, &ProviderHTTPError{Op: op, Status: se.status, Provider: apperrors.ParseProviderError(se.status, se.body)}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// doJSON sends req and decodes a 2xx body into out (if non-nil).
func (c *providerClient) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderHTTPError{Op: op, Status: resp.StatusCode, Provider: apperrors.ParseProviderError(resp.StatusCode, body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// classifyProviderError maps a provider failure onto the error taxonomy.
// 401 means the credential is no longer accepted; 408, 429 and 5xx, timeouts
// and transport errors are transient; any other 4xx is permanent.
func classifyProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	status := 0
	var provider *apperrors.ProviderError

	var httpErr *ProviderHTTPError
	var gErr *googleapi.Error
	switch {
	case errors.As(err, &httpErr):
		status, provider = httpErr.Status, httpErr.Provider
	case errors.As(err, &gErr):
		status = gErr.Code
		provider = &apperrors.ProviderError{Detail: gErr.Message, HTTPStatus: gErr.Code}
		if len(gErr.Errors) > 0 {
			provider.Code = gErr.Errors[0].Reason
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return apperrors.AuthExpired(op+": credential rejected", err).WithProvider(provider)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return apperrors.TransientProvider(op, err).WithProvider(provider)
	case status >= 400:
		return apperrors.NonRetryable(op, err).WithProvider(provider)
	}

	// Transport errors, timeouts and an open breaker.
	return apperrors.TransientProvider(op, err)
}
