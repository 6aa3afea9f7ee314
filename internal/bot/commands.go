package bot

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/tazhate/packreminder/internal/domain"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil && update.Message.IsCommand() {
		b.handleCommand(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.isAllowedChat(chatID) {
		b.SendMessage(chatID, "⛔ Access denied")
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.SendMessage(chatID, helpText)
	case "reminders":
		b.cmdReminders(ctx, chatID)
	case "cancel":
		b.cmdCancel(ctx, chatID, args)
	case "restore":
		b.cmdRestore(ctx, chatID)
	default:
		b.SendMessage(chatID, "Unknown command. /help for the list of commands")
	}
}

const helpText = `<b>Commands</b>

/reminders - active reminders
/cancel &lt;list&gt; - cancel a list's reminders
/restore - re-arm reminders lost on restart`

func (b *Bot) cmdReminders(ctx context.Context, chatID int64) {
	indexes, err := b.reminders.List(ctx)
	if err != nil {
		log.Printf("Error listing reminders: %v", err)
		b.SendMessage(chatID, "❌ Could not load reminders")
		return
	}
	if len(indexes) == 0 {
		b.SendMessage(chatID, "No active reminders.")
		return
	}

	if err := b.SendMessageWithKeyboard(chatID, FormatReminderList(indexes), reminderListKeyboard(indexes)); err != nil {
		log.Printf("Error sending reminder list: %v", err)
	}
}

func (b *Bot) cmdCancel(ctx context.Context, chatID int64, listID string) {
	if listID == "" {
		b.SendMessage(chatID, "Usage: /cancel &lt;list&gt;")
		return
	}
	if err := b.reminders.CancelReminders(ctx, listID); err != nil {
		log.Printf("Error cancelling %s: %v", listID, err)
		b.SendMessage(chatID, "❌ Could not cancel reminders")
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("🗑 Reminders for <b>%s</b> cancelled", html.EscapeString(listID)))
}

func (b *Bot) cmdRestore(ctx context.Context, chatID int64) {
	rep := b.reminders.RestoreOnResume(ctx)
	b.SendMessage(chatID, fmt.Sprintf("♻️ Checked %d lists, restored %d, failed %d",
		rep.Checked, len(rep.Restored), len(rep.Failed)))
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || !b.isAllowedChat(callback.Message.Chat.ID) {
		b.api.Request(tgbotapi.NewCallback(callback.ID, "⛔ Access denied"))
		return
	}

	action, listID, ok := strings.Cut(callback.Data, ":")
	if !ok {
		return
	}
	switch action {
	case "cancel":
	case "cancelk":
		indexes, err := b.reminders.List(ctx)
		if err != nil {
			log.Printf("Error listing reminders: %v", err)
			b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ Error"))
			return
		}
		if listID, ok = listIDForKey(indexes, listID); !ok {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "Already gone"))
			b.cmdReminders(ctx, callback.Message.Chat.ID)
			return
		}
	default:
		return
	}

	text := "🗑 Cancelled"
	if err := b.reminders.CancelReminders(ctx, listID); err != nil {
		log.Printf("Error cancelling %s: %v", listID, err)
		text = "❌ Error"
	}
	b.api.Request(tgbotapi.NewCallback(callback.ID, text))
	b.cmdReminders(ctx, callback.Message.Chat.ID)
}

// FormatReminderList renders persisted reminders as an HTML message.
func FormatReminderList(indexes []*domain.PersistedIndex) string {
	var sb strings.Builder
	sb.WriteString("🔔 <b>Reminders</b>\n")
	for _, idx := range indexes {
		spec := idx.Spec
		sb.WriteString(fmt.Sprintf("\n<b>%s</b> (%s)\n", html.EscapeString(spec.Title), html.EscapeString(spec.ListID)))
		sb.WriteString("   " + describeSchedule(spec))
		sb.WriteString(fmt.Sprintf(" · %d armed\n", len(idx.AlertIDs)))
	}
	return sb.String()
}

func describeSchedule(spec domain.ReminderSpec) string {
	at := spec.BaseDateTime.Format("15:04")
	if spec.Type == domain.NotifyOnce {
		return "once, " + spec.BaseDateTime.Format("02.01.2006 15:04")
	}
	switch spec.Rule.Kind {
	case domain.RuleDaily:
		return "daily at " + at
	case domain.RuleWeekly:
		var days []string
		for _, d := range spec.Rule.SelectedWeekdays() {
			days = append(days, domain.WeekdayNameShort(d))
		}
		return strings.Join(days, ", ") + " at " + at
	case domain.RuleMonthly:
		return fmt.Sprintf("monthly on day %d at %s", spec.BaseDateTime.Day(), at)
	default:
		return "off"
	}
}

func reminderListKeyboard(indexes []*domain.PersistedIndex) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, idx := range indexes {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 "+truncate(idx.Spec.Title, 25), cancelData(idx.ListID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Telegram rejects callback data longer than 64 bytes.
const maxCallbackData = 64

// cancelData is the callback data of a list's cancel button. Ids too long
// to fit are replaced by a name-based UUID of the id.
func cancelData(listID string) string {
	if data := "cancel:" + listID; len(data) <= maxCallbackData {
		return data
	}
	return "cancelk:" + listKey(listID)
}

func listKey(listID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(listID)).String()
}

func listIDForKey(indexes []*domain.PersistedIndex, key string) (string, bool) {
	for _, idx := range indexes {
		if listKey(idx.ListID) == key {
			return idx.ListID, true
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
