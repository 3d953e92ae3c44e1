package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"care-reminders/internal/logging"
)

const androidChannelID = "tuenjai_tasks"

// Gateway posts multicast requests to an FCM-style HTTP push gateway.
type Gateway struct {
	url       string
	apiKey    string
	batchSize int
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
}

func NewGateway(url, apiKey string, batchSize int, timeout time.Duration) *Gateway {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Gateway{
		url:       url,
		apiKey:    apiKey,
		batchSize: batchSize,
		client:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "push-gateway",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Logger.WithField("breaker", name).Warnf("circuit breaker changed from %s to %s", from, to)
			},
		}),
	}
}

type gatewayNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type gatewayAndroid struct {
	Priority     string                     `json:"priority"`
	Notification gatewayAndroidNotification `json:"notification"`
}

type gatewayAndroidNotification struct {
	ChannelID string `json:"channelId"`
}

type gatewayAPNS struct {
	Headers map[string]string `json:"headers"`
	Payload gatewayAPNSPayload `json:"payload"`
}

type gatewayAPNSPayload struct {
	APS gatewayAPS `json:"aps"`
}

type gatewayAPS struct {
	Sound string `json:"sound"`
	Badge int    `json:"badge,omitempty"`
}

type gatewayRequest struct {
	Tokens       []string            `json:"tokens"`
	Notification gatewayNotification `json:"notification"`
	Data         map[string]string   `json:"data,omitempty"`
	Android      gatewayAndroid      `json:"android"`
	APNS         gatewayAPNS         `json:"apns"`
}

type gatewayResponse struct {
	Responses []struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	} `json:"responses"`
}

// SendMulticast sends msg to tokens in batches of batchSize. A batch that
// fails as a whole marks all its tokens failed and the next batch still runs.
func (g *Gateway) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var result Result
	var lastErr error
	for start := 0; start < len(tokens); start += g.batchSize {
		end := min(start+g.batchSize, len(tokens))
		batch := tokens[start:end]

		out, err := g.breaker.Execute(func() (interface{}, error) {
			return g.sendBatch(ctx, batch, msg)
		})
		if err != nil {
			lastErr = err
			result.fail(batch, err.Error())
			continue
		}
		result.Merge(out.(Result))
	}
	if result.SuccessCount == 0 && lastErr != nil {
		return result, fmt.Errorf("push gateway: %w", lastErr)
	}
	return result, nil
}

func (g *Gateway) sendBatch(ctx context.Context, tokens []string, msg Message) (Result, error) {
	payload := gatewayRequest{
		Tokens:       tokens,
		Notification: gatewayNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Android: gatewayAndroid{
			Priority:     "high",
			Notification: gatewayAndroidNotification{ChannelID: androidChannelID},
		},
		APNS: gatewayAPNS{
			Headers: map[string]string{"apns-priority": msg.Priority.apnsPriority()},
			Payload: gatewayAPNSPayload{APS: gatewayAPS{Sound: "default"}},
		},
	}
	if msg.Priority == PriorityHigh {
		payload.APNS.Payload.APS.Badge = 1
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("push gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse push response: %w", err)
	}
	if len(parsed.Responses) != len(tokens) {
		return Result{}, fmt.Errorf("push gateway returned %d results for %d tokens", len(parsed.Responses), len(tokens))
	}

	var result Result
	for i, r := range parsed.Responses {
		if r.Success {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.Failures = append(result.Failures, TokenFailure{Token: tokens[i], Reason: r.Error})
	}
	return result, nil
}
