package gateway

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramGateway receives control commands from a Telegram chat and sends
// pipeline notifications back to it.
type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Control Controller
	// ChatID restricts commands to one chat. Zero accepts any chat.
	ChatID int64
}

func NewTelegramGateway(token string, chatID int64, ctrl Controller) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("[Gateway] Authorized on Telegram account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:     bot,
		Control: ctrl,
		ChatID:  chatID,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		if tg.ChatID != 0 && update.Message.Chat.ID != tg.ChatID {
			log.Printf("[Gateway] Ignoring message from chat %d", update.Message.Chat.ID)
			continue
		}

		log.Printf("[Gateway] [%s] %s", update.Message.From.UserName, update.Message.Text)

		reply := HelpText
		if cmd, ok := ParseCommand(update.Message.Text); ok {
			reply = Execute(context.Background(), tg.Control, cmd)
		}

		msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
		if _, err := tg.Bot.Send(msg); err != nil {
			log.Printf("[Gateway] Failed to reply on Telegram: %v", err)
		}
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	var id int64
	fmt.Sscanf(chatID, "%d", &id)
	if id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
