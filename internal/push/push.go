// Package push delivers notification messages to device tokens. Delivery
// failures are reported back to the caller and never retried here.
package push

import (
	"context"
	"strings"
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// apnsPriority maps to the apns-priority header value.
func (p Priority) apnsPriority() string {
	if p == PriorityHigh {
		return "10"
	}
	return "5"
}

// Message is the logical payload shared by every transport.
type Message struct {
	Title    string
	Body     string
	Data     map[string]string
	Priority Priority
}

// TokenFailure describes one token the transport rejected.
type TokenFailure struct {
	Token  string
	Reason string
}

// Result summarises one multicast.
type Result struct {
	SuccessCount int
	FailureCount int
	Failures     []TokenFailure
}

func (r *Result) Merge(other Result) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Failures = append(r.Failures, other.Failures...)
}

func (r *Result) fail(tokens []string, reason string) {
	for _, token := range tokens {
		r.FailureCount++
		r.Failures = append(r.Failures, TokenFailure{Token: token, Reason: reason})
	}
}

// Dispatcher sends one message to many tokens.
type Dispatcher interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error)
}

// CleanTokens drops blank tokens and duplicates, keeping first-seen order.
func CleanTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
