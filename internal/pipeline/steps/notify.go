package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// NotifyStep posts the current value to an external destination. The
// request body is deterministic for one value, so re-delivery after a
// retried write is safe; a per-destination rate limiter keeps bursts of
// writes from flooding the receiver.
type NotifyStep struct {
	name    string
	config  notifyConfig
	client  *http.Client
	limiter *rate.Limiter
}

type notifyConfig struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	TimeoutMs     int64             `json:"timeoutMs"`
	RatePerSecond float64           `json:"ratePerSecond"`
	Burst         int               `json:"burst"`
}

func newNotifyFactory(client *http.Client) func(*schema.Model, string, map[string]interface{}) (pipeline.Step, error) {
	return func(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
		step := &NotifyStep{name: name}
		if err := decodeConfig("notify", config, &step.config); err != nil {
			return nil, err
		}

		parsed, err := url.Parse(step.config.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, errors.ConfigurationErrorf("notify step requires a valid url, got %q", step.config.URL)
		}
		if step.config.Method == "" {
			step.config.Method = http.MethodPost
		}
		if step.config.TimeoutMs == 0 {
			step.config.TimeoutMs = 5000
		}
		if step.config.RatePerSecond == 0 {
			step.config.RatePerSecond = 10
		}
		if step.config.Burst == 0 {
			step.config.Burst = int(step.config.RatePerSecond)
		}

		step.limiter = rate.NewLimiter(rate.Limit(step.config.RatePerSecond), step.config.Burst)
		step.client = client
		if step.client == nil {
			step.client = &http.Client{Timeout: time.Duration(step.config.TimeoutMs) * time.Millisecond}
		}
		return step, nil
	}
}

func (s *NotifyStep) Name() string { return s.name }
func (s *NotifyStep) Kind() string { return "notify" }

func (s *NotifyStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return pipeline.Continue, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model":   ec.Model.Name(),
		"purpose": string(ec.Purpose),
		"value":   ec.Value,
	})
	if err != nil {
		return pipeline.Continue, err
	}

	req, err := http.NewRequestWithContext(ctx, s.config.Method, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		return pipeline.Continue, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.Continue, fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return pipeline.Continue, fmt.Errorf("notify destination returned status %d", resp.StatusCode)
	}
	return pipeline.Continue, nil
}
