package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableStatus: []int{408, 429, 500, 502, 503, 504},
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *RetryConfig
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			config:  DefaultRetryConfig(),
			wantErr: false,
		},
		{
			name:    "zero attempts",
			config:  &RetryConfig{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 2},
			wantErr: true,
		},
		{
			name:    "negative backoff",
			config:  &RetryConfig{MaxAttempts: 3, InitialBackoff: -time.Second, MaxBackoff: time.Minute, BackoffFactor: 2},
			wantErr: true,
		},
		{
			name:    "max below initial",
			config:  &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Second, BackoffFactor: 2},
			wantErr: true,
		},
		{
			name:    "factor below one",
			config:  &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 0.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	resp, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 200}, nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if resp.Metadata[MetadataRetryCount] != 0 {
		t.Errorf("retry count = %v, want 0", resp.Metadata[MetadataRetryCount])
	}
}

func TestRetry_RecoversAfterServerError(t *testing.T) {
	calls := 0
	resp, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			failed := &Response{StatusCode: 503}
			return failed, FromResponse(failed)
		}
		return &Response{StatusCode: 200}, nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if resp.Metadata[MetadataRetryCount] != 2 {
		t.Errorf("retry count = %v, want 2", resp.Metadata[MetadataRetryCount])
	}
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	resp, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		failed := &Response{StatusCode: 404, Body: []byte("missing")}
		return failed, FromResponse(failed)
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	// The failed response is still handed back for inspection
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("resp = %+v, want the 404 response", resp)
	}
}

func TestRetry_ExhaustionReturnsLastResponse(t *testing.T) {
	calls := 0
	resp, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		failed := &Response{StatusCode: 500}
		return failed, FromResponse(failed)
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (MaxAttempts)", calls)
	}
	if resp == nil || resp.StatusCode != 500 {
		t.Errorf("resp = %+v, want last 500 response", resp)
	}

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Type != ErrorTypeServer {
		t.Errorf("error type = %v, want server", terr.Type)
	}
}

func TestRetry_NetworkErrorRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &Error{Type: ErrorTypeNetwork, Message: "connection refused", Retryable: true}
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_UnknownErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("plain error")
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := &RetryConfig{
		MaxAttempts:     3,
		InitialBackoff:  time.Second,
		MaxBackoff:      time.Second,
		BackoffFactor:   1.0,
		RetryableStatus: []int{500},
	}

	calls := 0
	start := time.Now()
	_, err := Retry(ctx, config, func(ctx context.Context) (*Response, error) {
		calls++
		cancel()
		failed := &Response{StatusCode: 500}
		return failed, FromResponse(failed)
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want cancellation")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Type != ErrorTypeCancelled {
		t.Errorf("error = %v, want cancelled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Retry() waited through the backoff despite cancellation")
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want time.Duration
	}{
		{
			name: "nil response",
			resp: nil,
			want: 0,
		},
		{
			name: "no header",
			resp: &Response{Headers: http.Header{}},
			want: 0,
		},
		{
			name: "numeric seconds",
			resp: &Response{Headers: http.Header{"Retry-After": []string{"2"}}},
			want: 2 * time.Second,
		},
		{
			name: "malformed",
			resp: &Response{Headers: http.Header{"Retry-After": []string{"soon"}}},
			want: 0,
		},
		{
			name: "negative seconds",
			resp: &Response{Headers: http.Header{"Retry-After": []string{"-5"}}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterHint(tt.resp); got != tt.want {
				t.Errorf("retryAfterHint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfterHint_HTTPDate(t *testing.T) {
	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	resp := &Response{Headers: http.Header{"Retry-After": []string{future}}}

	got := retryAfterHint(resp)
	if got <= 0 || got > 3*time.Second {
		t.Errorf("retryAfterHint() = %v, want (0, 3s]", got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	resp = &Response{Headers: http.Header{"Retry-After": []string{past}}}
	if got := retryAfterHint(resp); got != 0 {
		t.Errorf("retryAfterHint() for past date = %v, want 0", got)
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  10.0,
	}

	// Attempt 5 would be 10^4 seconds uncapped
	delay := backoffDelay(config, 5, 0)
	if delay > config.MaxBackoff+200*time.Millisecond {
		t.Errorf("backoffDelay() = %v, want <= max + jitter", delay)
	}
}

func TestBackoffDelay_RetryAfterRaisesDelay(t *testing.T) {
	config := fastRetryConfig()

	delay := backoffDelay(config, 1, 4*time.Millisecond)
	if delay < 4*time.Millisecond {
		t.Errorf("backoffDelay() = %v, want >= Retry-After hint", delay)
	}

	// Hint above MaxBackoff is capped
	delay = backoffDelay(config, 1, time.Minute)
	if delay > config.MaxBackoff+200*time.Millisecond {
		t.Errorf("backoffDelay() = %v, want capped at max + jitter", delay)
	}
}
