package apirouter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/genrelay/internal/kvstore"
)

// ErrNotConfigured reports an empty candidate list. It is distinct from
// any transport failure so the UI can send the user to configuration
// instead of suggesting a retry.
var ErrNotConfigured = errors.New("no backend base configured")

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:     true,
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

const minRetryBackoff = 80 * time.Millisecond

// Response is the outcome of Execute. Callers must not assume a 2xx
// status: when the last candidate exhausts its attempts on a retryable
// status, that response is returned as-is with a nil error.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Base   string
}

func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// ProbeResult is ephemeral; only an ok probe leaves a trace, as the new
// last-healthy base.
type ProbeResult struct {
	OK     bool   `json:"ok"`
	Base   string `json:"base"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Options struct {
	Env        Env
	Page       PageContext
	Store      kvstore.Adapter
	HTTPClient *http.Client

	// RetryAttempts is the number of extra tries per candidate, so each
	// candidate is attempted RetryAttempts+1 times.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	ProbePath      string
}

type Router struct {
	env            Env
	page           PageContext
	store          kvstore.Adapter
	httpClient     *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	requestTimeout time.Duration
	probeTimeout   time.Duration
	probePath      string
}

func New(opts Options) *Router {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	retryAttempts := opts.RetryAttempts
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	retryBaseDelay := opts.RetryBaseDelay
	if retryBaseDelay < minRetryBackoff {
		retryBaseDelay = minRetryBackoff
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 12 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	probePath := strings.TrimSpace(opts.ProbePath)
	if probePath == "" {
		probePath = "/health"
	}
	if !strings.HasPrefix(probePath, "/") {
		probePath = "/" + probePath
	}
	return &Router{
		env:            opts.Env,
		page:           opts.Page,
		store:          opts.Store,
		httpClient:     httpClient,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		requestTimeout: requestTimeout,
		probeTimeout:   probeTimeout,
		probePath:      probePath,
	}
}

// Candidates resolves the current ordered candidate list from a fresh
// runtime state snapshot.
func (r *Router) Candidates() []string {
	return ResolveCandidates(r.env, LoadRuntimeState(r.store), r.page)
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetrySame
	outcomeAdvance
)

// Execute walks candidates in order, trying each up to retryAttempts+1
// times with linear backoff. The router does not enforce a deadline
// across candidates; callers needing a hard budget must bound ctx.
func (r *Router) Execute(ctx context.Context, method, path string, headers map[string]string, body []byte) (*Response, error) {
	candidates := r.Candidates()
	if len(candidates) == 0 {
		return nil, ErrNotConfigured
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var lastResp *Response
	var lastErr error
	for _, base := range candidates {
		lastResp = nil
		lastErr = nil
		for attempt := 0; attempt <= r.retryAttempts; attempt++ {
			outcome, resp, err := r.attempt(ctx, base, method, path, headers, body)
			switch outcome {
			case outcomeSuccess:
				_ = setLastHealthyBase(r.store, base)
				return resp, nil
			case outcomeRetrySame:
				lastResp = resp
				lastErr = err
				if attempt < r.retryAttempts {
					if waitErr := sleepContext(ctx, r.backoff(attempt)); waitErr != nil {
						return nil, waitErr
					}
					continue
				}
			case outcomeAdvance:
				lastResp = resp
				lastErr = err
			}
			break
		}
	}

	// A retryable status from the final candidate is handed back as a
	// response; only hard transport failures surface as errors.
	if lastResp != nil {
		return lastResp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotConfigured
}

func (r *Router) attempt(ctx context.Context, base, method, path string, headers map[string]string, body []byte) (attemptOutcome, *Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, base+path, bodyReader)
	if err != nil {
		return outcomeAdvance, nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return outcomeRetrySame, nil, fmt.Errorf("request to %s timed out: %w", base, err)
		}
		return outcomeAdvance, nil, fmt.Errorf("request to %s failed: %w", base, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return outcomeAdvance, nil, readErr
	}
	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   payload,
		Base:   base,
	}
	if retryableStatuses[resp.StatusCode] {
		return outcomeRetrySame, out, nil
	}
	return outcomeSuccess, out, nil
}

func (r *Router) backoff(attemptIndex int) time.Duration {
	delay := r.retryBaseDelay
	if delay < minRetryBackoff {
		delay = minRetryBackoff
	}
	return delay * time.Duration(attemptIndex+1)
}

// Probe issues one bounded liveness request against a base. It never
// returns an error; failures are folded into the result.
func (r *Router) Probe(ctx context.Context, base string) ProbeResult {
	normalized := NormalizeBase(base)
	if normalized == "" {
		return ProbeResult{Base: base, Error: "invalid base address"}
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, normalized+r.probePath, nil)
	if err != nil {
		return ProbeResult{Base: normalized, Error: err.Error()}
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ProbeResult{Base: normalized, Error: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProbeResult{Base: normalized, Status: resp.StatusCode, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	_ = setLastHealthyBase(r.store, normalized)
	return ProbeResult{OK: true, Base: normalized, Status: resp.StatusCode}
}

// ProbeAll walks the candidates in order and stops at the first healthy
// one. When none is healthy the report carries one entry per candidate.
func (r *Router) ProbeAll(ctx context.Context) (*ProbeResult, []ProbeResult) {
	report := []ProbeResult{}
	for _, base := range r.Candidates() {
		result := r.Probe(ctx, base)
		report = append(report, result)
		if result.OK {
			return &result, report
		}
	}
	return nil, report
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
