package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scalper/pkg/ratelimit"
)

// maxMessageRunes - запас до лимита Telegram в 4096 символов
const maxMessageRunes = 3500

// messageSender - часть tgbotapi.BotAPI, нужная sink'у
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink отправляет уведомления в чат Telegram
type TelegramSink struct {
	bot     messageSender
	chatID  int64
	limiter *ratelimit.RateLimiter
}

// NewTelegramSink создаёт бота по токену (проверяет токен запросом getMe)
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newTelegramSink(bot, chatID), nil
}

func newTelegramSink(bot messageSender, chatID int64) *TelegramSink {
	return &TelegramSink{
		bot:    bot,
		chatID: chatID,
		// Telegram ограничивает ~1 сообщение в секунду на чат
		limiter: ratelimit.NewRateLimiter(1, 3),
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver отправляет сообщение, длинные тексты режутся по строкам
func (s *TelegramSink) Deliver(ctx context.Context, msg string) error {
	for _, chunk := range splitChunks(msg, maxMessageRunes) {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.bot.Send(tgbotapi.NewMessage(s.chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// splitChunks режет текст на части не длиннее limit рун, предпочитая границу строки
func splitChunks(text string, limit int) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := limit
		for cut > 0 && runes[cut-1] != '\n' {
			cut--
		}
		if cut <= limit/2 {
			cut = limit
		}
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return chunks
}
