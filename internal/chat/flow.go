package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"media-conversion-bot/internal/admission"
	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/models"
	"media-conversion-bot/internal/notify"
	"media-conversion-bot/internal/queue"
	"media-conversion-bot/internal/session"
	"media-conversion-bot/internal/telemetry"
)

// Accounts is the slice of the store the chat flow needs.
type Accounts interface {
	UpsertAccount(ctx context.Context, userID int64, username, fullName string) error
	GetAccount(ctx context.Context, userID int64) (models.Account, error)
	Register(ctx context.Context, userID int64, bonus int) (bool, error)
	AddCoins(ctx context.Context, userID int64, amount int) error
	AllAccounts(ctx context.Context) ([]models.Account, error)
	Conversions(ctx context.Context, userID int64, limit int) ([]models.Conversion, error)
}

// Admitter performs the admission step for a completed selection.
type Admitter interface {
	Admit(ctx context.Context, userID int64, title, kind string, quality int) (models.Conversion, error)
}

// Flow drives the inbound side of the chat transport: plain-text commands and
// the title -> kind -> quality selection dialogue that ends in an admission.
type Flow struct {
	cfg      config.Config
	accounts Accounts
	sessions *session.Store
	admit    Admitter
	notifier notify.Notifier

	// dispatch hands an admitted task to the queue registry. It deliberately
	// takes no context: the worker must outlive the inbound request.
	dispatch func(t queue.Task)
}

func NewFlow(cfg config.Config, accounts Accounts, sessions *session.Store, admit Admitter, notifier notify.Notifier, dispatch func(t queue.Task)) *Flow {
	return &Flow{
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		admit:    admit,
		notifier: notifier,
		dispatch: dispatch,
	}
}

var (
	kindChoices = []notify.Choice{
		{ID: "kind:audio", Label: "AUDIO (mp3)"},
		{ID: "kind:video", Label: "VIDEO (mp4)"},
	}
)

// OnTextMessage handles a plain text message from a user.
func (f *Flow) OnTextMessage(ctx context.Context, userID, chatID int64, username, fullName, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := f.accounts.UpsertAccount(ctx, userID, username, fullName); err != nil {
		log.Printf("chat: upsert account %d: %v", userID, err)
	}

	lower := strings.ToLower(text)
	switch {
	case lower == "register":
		f.handleRegister(ctx, userID, chatID)
	case lower == "check":
		f.handleCheck(ctx, userID, chatID)
	case strings.HasPrefix(lower, "history"):
		f.handleHistory(ctx, userID, chatID, text)
	case strings.HasPrefix(lower, "addcoins"):
		f.handleAddCoins(ctx, userID, chatID, text)
	case lower == "roster":
		f.handleRoster(ctx, userID, chatID)
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be"):
		f.say(ctx, chatID, "I detected a URL. Please send a title only; the converter searches for it.")
	default:
		f.startSelection(ctx, userID, chatID, text)
	}
}

// OnChoiceSelected handles a button press from a pending selection dialogue.
func (f *Flow) OnChoiceSelected(ctx context.Context, userID, chatID int64, choiceID string) {
	sel, ok, err := f.sessions.Get(ctx, userID)
	if err != nil {
		log.Printf("chat: load session %d: %v", userID, err)
		return
	}
	if !ok {
		f.say(ctx, chatID, "That selection has expired. Send a title to start over.")
		return
	}

	// The keyboard the user just pressed is stale either way.
	if !sel.PromptMsg.Zero() {
		_ = f.notifier.DeleteMessage(ctx, sel.PromptMsg)
	}

	switch {
	case strings.HasPrefix(choiceID, "kind:"):
		f.handleKindChoice(ctx, chatID, sel, strings.TrimPrefix(choiceID, "kind:"))
	case strings.HasPrefix(choiceID, "quality:"):
		f.handleQualityChoice(ctx, chatID, sel, strings.TrimPrefix(choiceID, "quality:"))
	default:
		log.Printf("chat: unknown choice %q from %d", choiceID, userID)
	}
}

func (f *Flow) startSelection(ctx context.Context, userID, chatID int64, title string) {
	prompt, err := f.notifier.SendMessage(ctx, chatID,
		fmt.Sprintf("Media Converter\nTitle: %s\nSelect type:", title), kindChoices...)
	if err != nil {
		log.Printf("chat: send type prompt to %d: %v", chatID, err)
		return
	}
	sel := session.Selection{UserID: userID, ChatID: chatID, Title: title, PromptMsg: prompt}
	if err := f.sessions.Put(ctx, sel); err != nil {
		log.Printf("chat: save session %d: %v", userID, err)
	}
}

func (f *Flow) handleKindChoice(ctx context.Context, chatID int64, sel session.Selection, kind string) {
	if kind != models.KindAudio && kind != models.KindVideo {
		return
	}
	sel.Kind = kind

	unit := "p"
	label := "Select video quality:"
	if kind == models.KindAudio {
		unit = " kbps"
		label = "Select audio quality:"
	}
	choices := make([]notify.Choice, 0, 4)
	for _, q := range f.cfg.Qualities(kind) {
		choices = append(choices, notify.Choice{
			ID:    fmt.Sprintf("quality:%d", q),
			Label: fmt.Sprintf("%d%s", q, unit),
		})
	}

	prompt, err := f.notifier.SendMessage(ctx, chatID, label, choices...)
	if err != nil {
		log.Printf("chat: send quality prompt to %d: %v", chatID, err)
		return
	}
	sel.PromptMsg = prompt
	if err := f.sessions.Put(ctx, sel); err != nil {
		log.Printf("chat: save session %d: %v", sel.UserID, err)
	}
}

func (f *Flow) handleQualityChoice(ctx context.Context, chatID int64, sel session.Selection, raw string) {
	defer func() {
		if err := f.sessions.Delete(ctx, sel.UserID); err != nil {
			log.Printf("chat: drop session %d: %v", sel.UserID, err)
		}
	}()

	if sel.Kind == "" {
		f.say(ctx, chatID, "Pick a type first. Send a title to start over.")
		return
	}
	quality, err := strconv.Atoi(raw)
	if err != nil {
		return
	}

	conv, err := f.admit.Admit(ctx, sel.UserID, sel.Title, sel.Kind, quality)
	if err != nil {
		telemetry.AdmissionsRejected.Inc()
		f.say(ctx, chatID, admissionText(err, f.cfg))
		return
	}
	telemetry.AdmissionsAccepted.Inc()

	status, err := f.notifier.SendMessage(ctx, chatID,
		fmt.Sprintf("Media Converter\nTitle: %s\nStatus: □ □ □ □ □\n(queued)", conv.Title))
	if err != nil {
		log.Printf("chat: send status message to %d: %v", chatID, err)
	}

	f.dispatch(queue.Task{Conversion: conv, Recipient: chatID, StatusMsg: status})
	f.say(ctx, chatID, "Your conversion has been queued. You'll be notified when it starts.")
}

// admissionText maps admission rejections to user-facing replies.
func admissionText(err error, cfg config.Config) string {
	var cooldown *admission.CooldownError
	switch {
	case errors.Is(err, admission.ErrDailyLimitExceeded):
		return fmt.Sprintf("You reached the daily limit of %d conversions. Try again tomorrow.", cfg.DailyLimit)
	case errors.As(err, &cooldown):
		return fmt.Sprintf("You're converting too frequently. Please wait %ds.", int(cooldown.Remaining.Seconds()))
	case errors.Is(err, admission.ErrInsufficientFunds):
		return "Insufficient coins for this conversion. Check your balance with `check`."
	case errors.Is(err, admission.ErrUnknownAccount):
		return "You are not registered. Type `register` to register."
	default:
		return "Something went wrong admitting your conversion. Please try again."
	}
}

func (f *Flow) handleRegister(ctx context.Context, userID, chatID int64) {
	granted, err := f.accounts.Register(ctx, userID, f.cfg.RegisterBonus)
	if err != nil {
		log.Printf("chat: register %d: %v", userID, err)
		return
	}
	if !granted {
		f.say(ctx, chatID, "You're already registered.")
		return
	}
	f.say(ctx, chatID, fmt.Sprintf("Registered! You received %d coins.", f.cfg.RegisterBonus))
}

func (f *Flow) handleCheck(ctx context.Context, userID, chatID int64) {
	acct, err := f.accounts.GetAccount(ctx, userID)
	if err != nil {
		f.say(ctx, chatID, "You are not registered. Type `register` to register.")
		return
	}
	f.say(ctx, chatID, fmt.Sprintf(
		"Name: %s\nCoins: %d\nConverted\nAudio: %d\nVideo: %d",
		acct.FullName, acct.Coins, acct.AudioCount, acct.VideoCount))
}

func (f *Flow) handleHistory(ctx context.Context, userID, chatID int64, text string) {
	n := 10
	parts := strings.Fields(text)
	if len(parts) >= 2 {
		if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
			n = v
		}
	}
	convs, err := f.accounts.Conversions(ctx, userID, n)
	if err != nil {
		log.Printf("chat: history %d: %v", userID, err)
		return
	}
	if len(convs) == 0 {
		f.say(ctx, chatID, "No conversions yet.")
		return
	}
	lines := make([]string, 0, len(convs))
	for _, c := range convs {
		lines = append(lines, fmt.Sprintf("%s | %s | %d | %d coins | status:%s | %s",
			c.CreatedAt.Format("2006-01-02 15:04:05"), c.Kind, c.Quality, c.Cost, c.Status, c.Title))
	}
	f.say(ctx, chatID, strings.Join(lines, "\n"))
}

func (f *Flow) handleAddCoins(ctx context.Context, userID, chatID int64, text string) {
	if !f.isAdmin(userID) {
		f.say(ctx, chatID, "You are not authorized.")
		return
	}
	parts := strings.Fields(text)
	if len(parts) != 3 {
		f.say(ctx, chatID, "Usage: addcoins <user_id> <amount>")
		return
	}
	target, err1 := strconv.ParseInt(parts[1], 10, 64)
	amount, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		f.say(ctx, chatID, "Usage: addcoins <user_id> <amount>")
		return
	}
	if err := f.accounts.AddCoins(ctx, target, amount); err != nil {
		f.say(ctx, chatID, fmt.Sprintf("Could not adjust user %d: %v", target, err))
		return
	}
	f.say(ctx, chatID, fmt.Sprintf("Updated user %d by %d coins.", target, amount))
}

func (f *Flow) handleRoster(ctx context.Context, userID, chatID int64) {
	if !f.isAdmin(userID) {
		f.say(ctx, chatID, "You are not authorized.")
		return
	}
	accounts, err := f.accounts.AllAccounts(ctx)
	if err != nil {
		log.Printf("chat: roster: %v", err)
		return
	}
	if len(accounts) == 0 {
		f.say(ctx, chatID, "No users.")
		return
	}
	lines := []string{"Username | Coins | Audio | Video"}
	for _, a := range accounts {
		name := a.Username
		if name == "" {
			name = fmt.Sprintf("id:%d", a.UserID)
		}
		lines = append(lines, fmt.Sprintf("%s | %d | %d | %d", name, a.Coins, a.AudioCount, a.VideoCount))
	}
	f.say(ctx, chatID, strings.Join(lines, "\n"))
}

func (f *Flow) isAdmin(userID int64) bool {
	return f.cfg.AdminUserID != 0 && userID == f.cfg.AdminUserID
}

func (f *Flow) say(ctx context.Context, chatID int64, text string) {
	if _, err := f.notifier.SendMessage(ctx, chatID, text); err != nil {
		log.Printf("chat: send to %d: %v", chatID, err)
	}
}
