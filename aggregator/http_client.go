package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/veritas-care/evv/common/evverrors"
)

// wireClient is the transport shared by every aggregator implementation:
// auth header injection, the 30 s call timeout, 401 refresh-and-retry-once,
// and mapping of HTTP status classes onto retriable / terminal outcomes.
type wireClient struct {
	creds  Credentials
	http   *http.Client
	tokens *TokenSource
}

func newWireClient(creds Credentials) *wireClient {
	httpClient := &http.Client{Timeout: CallTimeout}
	wc := &wireClient{
		creds: creds,
		http:  httpClient,
	}
	if creds.Mode == AuthOAuth {
		wc.tokens = NewTokenSource(creds, httpClient)
	}
	return wc
}

func (wc *wireClient) authorize(ctx context.Context, req *http.Request) error {
	switch wc.creds.Mode {
	case AuthOAuth:
		token, err := wc.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case AuthAPIKey:
		header := wc.creds.APIKeyHeader
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, wc.creds.APIKey)
	default:
		return evverrors.New(evverrors.KindAuthenticationFailed,
			"aggregator credentials carry no auth mode")
	}
	return nil
}

// wireResponse ... decoded aggregator acknowledgment body
type wireResponse struct {
	Status         int
	SubmissionID   string
	ConfirmationID string
	ErrorCode      string
	ErrorMessage   string
	RetryAfter     time.Duration
}

type ackBody struct {
	SubmissionID   string `json:"submissionId"`
	ConfirmationID string `json:"confirmationId"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

// postJSON submits the payload, retrying exactly once after a token refresh
// when the aggregator answers 401.
func (wc *wireClient) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload any) (wireResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return wireResponse{}, fmt.Errorf("marshaling payload: %w", err)
	}

	var out wireResponse
	err = retry.Do(
		func() error {
			resp, doErr := wc.doOnce(ctx, endpoint, headers, body)
			if doErr != nil {
				return doErr
			}
			out = resp
			if resp.Status == http.StatusUnauthorized && wc.tokens != nil {
				wc.tokens.Invalidate()
				return evverrors.New(evverrors.KindAuthenticationFailed,
					"aggregator returned 401")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2), // first try plus one post-refresh retry
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(evverrors.IsAuthentication),
	)
	if err != nil {
		return wireResponse{}, err
	}
	return out, nil
}

func (wc *wireClient) doOnce(ctx context.Context, endpoint string, headers map[string]string, body []byte) (wireResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return wireResponse{}, fmt.Errorf("building submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if err := wc.authorize(ctx, req); err != nil {
		return wireResponse{}, err
	}

	resp, err := wc.http.Do(req)
	if err != nil {
		// network failure / timeout: retriable by the dispatcher's backoff
		return wireResponse{}, evverrors.Wrap(evverrors.KindAggregatorRetriable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return wireResponse{}, evverrors.Wrap(evverrors.KindAggregatorRetriable, err)
	}

	var ack ackBody
	_ = json.Unmarshal(raw, &ack) // non-JSON error bodies are tolerated

	out := wireResponse{
		Status:         resp.StatusCode,
		SubmissionID:   ack.SubmissionID,
		ConfirmationID: ack.ConfirmationID,
		ErrorCode:      ack.ErrorCode,
		ErrorMessage:   ack.ErrorMessage,
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return out, nil
}

// resultFromWire maps an HTTP acknowledgment onto a SubmissionResult.
// 2xx succeeds; 429 and 5xx are retriable; everything else is terminal.
func resultFromWire(resp wireResponse) SubmissionResult {
	res := SubmissionResult{
		SubmissionID:   resp.SubmissionID,
		ConfirmationID: resp.ConfirmationID,
		ErrorCode:      resp.ErrorCode,
		ErrorMessage:   resp.ErrorMessage,
		RetryAfter:     resp.RetryAfter,
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		res.OK = true
	case resp.Status == http.StatusTooManyRequests || resp.Status >= 500:
		res.Retriable = true
		if res.ErrorCode == "" {
			res.ErrorCode = strconv.Itoa(resp.Status)
		}
	default:
		res.Retriable = false
		if res.ErrorCode == "" {
			res.ErrorCode = strconv.Itoa(resp.Status)
		}
	}
	return res
}
