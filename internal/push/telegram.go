package push

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramPrefix marks a token that is a Telegram chat id rather than a
// device token, e.g. "tg:123456".
const TelegramPrefix = "tg:"

// chatSender is the part of tgbotapi.BotAPI the sender needs.
type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers messages to Telegram chats.
type TelegramSender struct {
	api chatSender
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

func newTelegramSenderWith(api chatSender) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var result Result
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(msg.Title), html.EscapeString(msg.Body))
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			result.fail([]string{token}, err.Error())
			continue
		}
		chatID, err := strconv.ParseInt(strings.TrimPrefix(token, TelegramPrefix), 10, 64)
		if err != nil {
			result.fail([]string{token}, "invalid chat id")
			continue
		}
		out := tgbotapi.NewMessage(chatID, text)
		out.ParseMode = tgbotapi.ModeHTML
		out.DisableNotification = msg.Priority != PriorityHigh
		if _, err := s.api.Send(out); err != nil {
			result.fail([]string{token}, err.Error())
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}
