package push

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
)

// Router splits tokens between the device gateway and Telegram and logs
// every rejected token. Either transport may be nil.
type Router struct {
	devices  Dispatcher
	telegram Dispatcher
}

func NewRouter(devices, telegram Dispatcher) *Router {
	return &Router{devices: devices, telegram: telegram}
}

func (r *Router) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var deviceTokens, chatTokens []string
	for _, token := range CleanTokens(tokens) {
		if strings.HasPrefix(token, TelegramPrefix) {
			chatTokens = append(chatTokens, token)
		} else {
			deviceTokens = append(deviceTokens, token)
		}
	}

	var result Result
	var firstErr error
	send := func(d Dispatcher, batch []string, name string) {
		if len(batch) == 0 {
			return
		}
		if d == nil {
			result.fail(batch, name+" transport not configured")
			return
		}
		out, err := d.SendMulticast(ctx, batch, msg)
		result.Merge(out)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	send(r.devices, deviceTokens, "device")
	send(r.telegram, chatTokens, "telegram")

	entry := logging.Logger.WithField("title", msg.Title)
	entry.Infof("send multicast: success count %d, failure count %d", result.SuccessCount, result.FailureCount)
	for _, failure := range result.Failures {
		entry.WithField("token", failure.Token).Errorf("send multicast: token rejected: %s", failure.Reason)
	}

	if result.SuccessCount == 0 && firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

// LogSender only logs messages. It stands in for the gateway when no
// gateway URL is configured.
type LogSender struct{}

func (LogSender) SendMulticast(_ context.Context, tokens []string, msg Message) (Result, error) {
	logging.Logger.WithFields(logrus.Fields{
		"tokens":   len(tokens),
		"priority": msg.Priority.String(),
		"data":     msg.Data,
	}).Infof("push (dry run): %s - %s", msg.Title, msg.Body)
	return Result{SuccessCount: len(tokens)}, nil
}
