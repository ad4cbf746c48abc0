package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/tracker"
	"github.com/example/weekpath/pkg/models"
)

const unitCallbackPrefix = "unit:"

var statusIcons = map[models.Status]string{
	models.StatusLocked:     "🔒",
	models.StatusAvailable:  "⚪",
	models.StatusInProgress: "🟡",
	models.StatusCompleted:  "✅",
}

// HandleCommand processes bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	if !b.allowed(chatID) {
		return nil
	}

	switch message.Command() {
	case "start", "help":
		return b.handleHelp(chatID)
	case "units":
		return b.handleUnits(ctx, chatID)
	case "status":
		return b.handleStatus(ctx, chatID, message.CommandArguments())
	case "done":
		return b.handleDone(ctx, chatID, message.CommandArguments())
	default:
		return b.sendMessage(chatID, "Unknown command. Use /help to see what I can do.", nil)
	}
}

func (b *Bot) handleHelp(chatID int64) error {
	text := "I keep track of your weekly units.\n\n" +
		"/units - curriculum overview\n" +
		"/status <unit> - details for one unit\n" +
		"/done <unit> module <n> - mark a module complete\n" +
		"/done <unit> writing <n> - mark a writing prompt complete\n" +
		"/done <unit> quiz <score> - record a quiz score\n" +
		"/done <unit> final_exam <score> - record the final exam score"
	return b.sendMessage(chatID, text, nil)
}

func (b *Bot) handleUnits(ctx context.Context, chatID int64) error {
	curriculum, err := b.tracker.GetCurriculum(ctx)
	if err != nil {
		return fmt.Errorf("failed to load curriculum: %w", err)
	}

	var sb strings.Builder
	var rows [][]MenuButton
	var row []MenuButton
	for _, st := range curriculum {
		fmt.Fprintf(&sb, "%s %s - %d%%\n", statusIcons[st.Status], st.Title, st.Percent)
		row = append(row, MenuButton{
			Text:         strconv.Itoa(st.UnitID),
			CallbackData: unitCallbackPrefix + strconv.Itoa(st.UnitID),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	keyboard := createKeyboard(rows)
	return b.sendMessage(chatID, sb.String(), &keyboard)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, args string) error {
	unitID, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return b.sendMessage(chatID, "Usage: /status <unit>", nil)
	}
	return b.sendUnitStatus(ctx, chatID, unitID)
}

func (b *Bot) sendUnitStatus(ctx context.Context, chatID int64, unitID int) error {
	st, err := b.tracker.GetUnitStatus(ctx, unitID)
	if errors.Is(err, catalog.ErrUnknownUnit) {
		return b.sendMessage(chatID, fmt.Sprintf("There is no unit %d.", unitID), nil)
	}
	if err != nil {
		return fmt.Errorf("failed to load unit %d: %w", unitID, err)
	}
	return b.sendMessage(chatID, formatUnitStatus(st), nil)
}

func (b *Bot) handleDone(ctx context.Context, chatID int64, args string) error {
	const usage = "Usage: /done <unit> <module|writing> <n> or /done <unit> <quiz|final_exam> <score>"

	fields := strings.Fields(args)
	if len(fields) != 3 {
		return b.sendMessage(chatID, usage, nil)
	}
	unitID, err := strconv.Atoi(fields[0])
	if err != nil {
		return b.sendMessage(chatID, usage, nil)
	}
	kind := models.SubUnitKind(strings.ToLower(fields[1]))
	if !kind.Valid() {
		return b.sendMessage(chatID, usage, nil)
	}

	var index int
	var payload tracker.Payload
	if kind.Scored() {
		score, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "%"), 64)
		if err != nil {
			return b.sendMessage(chatID, usage, nil)
		}
		payload.Score = &score
	} else {
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 1 {
			return b.sendMessage(chatID, usage, nil)
		}
		// learners count from one
		index = n - 1
	}

	_, err = b.tracker.RecordCompletion(ctx, unitID, kind, index, payload)
	switch {
	case errors.Is(err, catalog.ErrUnknownUnit), errors.Is(err, catalog.ErrUnknownSubUnit):
		return b.sendMessage(chatID, "That unit or part does not exist.", nil)
	case errors.Is(err, tracker.ErrInvalidScore):
		return b.sendMessage(chatID, "Scores go from 0 to 100.", nil)
	case errors.Is(err, tracker.ErrLocalWrite):
		return b.sendMessage(chatID, "Could not save your progress, please try again.", nil)
	case err != nil:
		return err
	}

	// the ProgressChanged notification confirms to the configured chat
	if b.chatID == 0 {
		return b.sendMessage(chatID, "Saved.", nil)
	}
	return nil
}

// HandleCallback processes inline keyboard presses
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Message == nil || !b.allowed(callback.Message.Chat.ID) {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.log.Debug("failed to answer callback", "error", err)
	}

	data := callback.Data
	if !strings.HasPrefix(data, unitCallbackPrefix) {
		return nil
	}
	unitID, err := strconv.Atoi(strings.TrimPrefix(data, unitCallbackPrefix))
	if err != nil {
		return fmt.Errorf("bad callback data %q", data)
	}
	return b.sendUnitStatus(ctx, callback.Message.Chat.ID, unitID)
}

func formatUnitStatus(st models.UnitStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s - %d%%\n", statusIcons[st.Status], st.Title, st.Percent)
	for _, m := range st.Modules {
		writeSubUnit(&sb, fmt.Sprintf("Module %d", m.Index+1), m)
	}
	for _, w := range st.Writing {
		writeSubUnit(&sb, fmt.Sprintf("Writing %d", w.Index+1), w)
	}
	if st.Quiz != nil {
		writeSubUnit(&sb, "Quiz", *st.Quiz)
	}
	if st.Exam != nil {
		writeSubUnit(&sb, "Final exam", *st.Exam)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeSubUnit(sb *strings.Builder, label string, s models.SubUnitStatus) {
	fmt.Fprintf(sb, "%s %s", statusIcons[s.Status], label)
	if s.Score != nil {
		fmt.Fprintf(sb, " (%.0f%%)", *s.Score)
	}
	if s.Reason != "" {
		fmt.Fprintf(sb, " - %s", s.Reason)
	}
	sb.WriteString("\n")
}

func describeRecord(rec models.ProgressRecord) string {
	key := rec.Key
	switch key.Kind {
	case models.KindQuiz, models.KindFinalExam:
		label := "Quiz"
		if key.Kind == models.KindFinalExam {
			label = "Final exam"
		}
		score := 0.0
		if rec.Score != nil {
			score = *rec.Score
		}
		if rec.Completed {
			return fmt.Sprintf("%s for unit %d passed with %.0f%%.", label, key.UnitID, score)
		}
		return fmt.Sprintf("%s for unit %d: %.0f%%, not passed yet.", label, key.UnitID, score)
	case models.KindWriting:
		return fmt.Sprintf("Writing prompt %d of unit %d done.", key.Index+1, key.UnitID)
	default:
		if !rec.Completed {
			return fmt.Sprintf("Started module %d of unit %d.", key.Index+1, key.UnitID)
		}
		return fmt.Sprintf("Module %d of unit %d done.", key.Index+1, key.UnitID)
	}
}
