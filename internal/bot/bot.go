package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/tracker"
	"github.com/example/weekpath/pkg/models"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Tracker is what the bot reads and writes progress through
type Tracker interface {
	GetUnitStatus(ctx context.Context, unitID int) (models.UnitStatus, error)
	GetCurriculum(ctx context.Context) ([]models.UnitStatus, error)
	RecordCompletion(ctx context.Context, unitID int, kind models.SubUnitKind, index int, p tracker.Payload) (models.ProgressRecord, error)
}

// sender is the subset of the Telegram API the bot uses to talk back
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is the learner's Telegram companion: it answers status commands and
// announces progress events to one chat
type Bot struct {
	api     sender
	client  *tgbotapi.BotAPI
	chatID  int64
	tracker Tracker
	config  *BotConfig
	log     *logger.Logger
}

// New connects to Telegram. chatID limits commands and notifications to
// one chat; zero accepts commands from any chat and disables notifications.
func New(token string, chatID int64, t Tracker, cfg *BotConfig, log *logger.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is not set")
	}
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	b := newBot(client, chatID, t, cfg, log)
	b.client = client
	b.log.Info("authorized on telegram", "account", client.Self.UserName)
	return b, nil
}

func newBot(api sender, chatID int64, t Tracker, cfg *BotConfig, log *logger.Logger) *Bot {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Bot{
		api:     api,
		chatID:  chatID,
		tracker: t,
		config:  cfg,
		log:     log.With("component", "Bot", "chat_id", chatID),
	}
}

// Start receives updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if b.client == nil {
		return errors.New("bot is not connected")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = int(b.config.PollTimeout.Seconds())
	updates := b.client.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// Stop gracefully stops the bot
func (b *Bot) Stop() {
	if b.client != nil {
		b.client.StopReceivingUpdates()
	}
	b.log.Info("bot stopped")
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	var err error
	switch {
	case update.Message != nil && update.Message.IsCommand():
		err = b.HandleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = b.HandleCallback(ctx, update.CallbackQuery)
	}
	if err != nil {
		b.log.Warn("failed to handle update", "update_id", update.UpdateID, "error", err)
	}
}

func (b *Bot) allowed(chatID int64) bool {
	return b.chatID == 0 || b.chatID == chatID
}

// Notify announces a progress event in the configured chat. It is meant to
// be subscribed to the tracker's ProgressChanged stream.
func (b *Bot) Notify(evt models.ProgressChanged) {
	if b.chatID == 0 {
		return
	}
	if evt.Relayed && !b.config.NotifyRelayed {
		return
	}
	rec := evt.Record
	if rec.Key.Kind == models.KindModule && !b.config.NotifyModules {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.RequestTimeout)
	defer cancel()

	text := describeRecord(rec)
	if rec.Completed {
		st, err := b.tracker.GetUnitStatus(ctx, rec.Key.UnitID)
		if err != nil {
			b.log.Warn("failed to evaluate unit for notification", "unit", rec.Key.UnitID, "error", err)
		} else if st.Status == models.StatusCompleted && rec.Key.Kind.Scored() {
			text += fmt.Sprintf("\n🎉 %s completed!", st.Title)
		}
	}
	if evt.Relayed {
		text += "\n(synced from another device)"
	}

	if err := b.sendMessage(b.chatID, text, nil); err != nil {
		b.log.Warn("failed to send progress notification", "key", rec.Key.String(), "error", err)
	}
}

func (b *Bot) sendMessage(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	_, err := b.api.Send(msg)
	return err
}
