package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// HTTPProvider calls a JSON generation endpoint.
//
// Request:  POST {endpoint} {"script": "...", "options": {...}}
// Success:  2xx with a VideoResult body
// Failure:  non-2xx, optionally {"error": {"code": "...", "message": "..."}}
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	caps       domain.Capabilities
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP provider.
func NewHTTPProvider(name, endpoint, apiKey string, caps domain.Capabilities, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		caps:     caps,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return p.name }

// Capabilities returns the configured capabilities.
func (p *HTTPProvider) Capabilities() domain.Capabilities { return p.caps }

type generateRequest struct {
	Script  string              `json:"script"`
	Options domain.VideoOptions `json:"options"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateVideo posts the script and decodes the result.
func (p *HTTPProvider) GenerateVideo(
	ctx context.Context,
	script string,
	opts domain.VideoOptions,
) (*domain.VideoResult, error) {
	jsonData, err := json.Marshal(generateRequest{Script: script, Options: opts})
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeInvalidParameters, Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeInvalidParameters, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeNetwork, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.statusError(resp, body)
	}

	var result domain.VideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeProcessing, Message: "parse response", Err: err}
	}
	if result.VideoURL == "" {
		return nil, NewError(p.name, CodeProcessing, "response has no video url")
	}
	result.ProviderID = p.name

	return &result, nil
}

func (p *HTTPProvider) statusError(resp *http.Response, body []byte) *Error {
	perr := &Error{
		Provider:   p.name,
		ErrCode:    CodeForStatus(resp.StatusCode),
		Status:     resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if isKnownCode(eb.Error.Code) {
			perr.ErrCode = ErrorCode(eb.Error.Code)
		}
		if eb.Error.Message != "" {
			perr.Message = eb.Error.Message
		}
	} else if len(body) > 0 {
		perr.Message = string(body)
	}

	if perr.ErrCode == CodeInvalidParameters && detectThrottle(perr.Message) {
		perr.ErrCode = CodeRateLimitExceeded
	}
	return perr
}

func (p *HTTPProvider) transportError(err error) *Error {
	code := CodeNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = CodeTimeout
	}
	return &Error{Provider: p.name, ErrCode: code, Message: fmt.Sprintf("request failed: %v", err), Err: err}
}

// parseRetryAfter reads delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
