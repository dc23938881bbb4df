package httpx

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

const (
	defaultRetryCount       = 2
	defaultRetryWaitTime    = 500 * time.Millisecond
	defaultRetryMaxWaitTime = 5 * time.Second
)

// New builds a resty client for one provider endpoint. Retries cover only
// failures worth repeating inside a single fetch budget: network errors,
// 5xx, 429 and 408. The overall deadline still comes from the request
// context, so retries never extend past the adapter's timeout.
func New(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "quotefeed/1.0").
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWaitTime).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch {
	case r.StatusCode() >= http.StatusInternalServerError:
		return true
	case r.StatusCode() == http.StatusTooManyRequests:
		return true
	case r.StatusCode() == http.StatusRequestTimeout:
		return true
	}
	return false
}

func retryHook(r *resty.Response, err error) {
	ev := log.Debug().Str("url", r.Request.URL).Int("attempt", r.Request.Attempt)
	if err != nil {
		ev.Err(err).Msg("retrying request after error")
		return
	}
	ev.Int("status", r.StatusCode()).Msg("retrying request after status")
}
