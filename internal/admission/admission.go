package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/models"
	"media-conversion-bot/internal/store"
)

// Admission-time rejections. These are user-facing and never retried by the
// service; the caller must wait, top up, or try again tomorrow.
var (
	ErrDailyLimitExceeded = errors.New("daily conversion limit exceeded")
	ErrInsufficientFunds  = errors.New("insufficient coins")
	ErrUnknownAccount     = errors.New("unknown account")
)

// CooldownError reports how long the owner must wait before the next request.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, wait %ds", int(e.Remaining.Seconds()))
}

// Ledger is the slice of the store the controller needs.
type Ledger interface {
	RateInfo(ctx context.Context, userID int64) (count int, date string, lastConversion *string, err error)
	Debit(ctx context.Context, userID int64, amount int) (bool, error)
	RecordAdmission(ctx context.Context, userID int64, kind, today string) error
	CreateConversion(ctx context.Context, userID int64, title, kind string, quality, cost int) (models.Conversion, error)
}

// rateWindowZone is the fixed calendar the daily limit counts against. The
// offset is deliberately constant rather than the host zone or the account's
// locale; changing it silently shifts every user's reset time.
var rateWindowZone = time.FixedZone("UTC+8", 8*60*60)

// Today returns the current calendar day in the rate-window zone.
func Today() string {
	return time.Now().In(rateWindowZone).Format("2006-01-02")
}

// NextRollover returns the next midnight of the rate-window calendar.
func NextRollover(now time.Time) time.Time {
	local := now.In(rateWindowZone)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, rateWindowZone)
}

// Controller performs the admit step: rate check, cooldown check, atomic
// debit, bookkeeping, and conversion-row creation.
type Controller struct {
	cfg    config.Config
	ledger Ledger

	// now is swapped in tests.
	now func() time.Time

	// locks serializes concurrent admissions for the same owner. Striping
	// keeps the lock table bounded regardless of how many owners exist.
	locks [64]sync.Mutex
}

func New(cfg config.Config, ledger Ledger) *Controller {
	return &Controller{cfg: cfg, ledger: ledger, now: time.Now}
}

func (c *Controller) ownerLock(userID int64) *sync.Mutex {
	return &c.locks[uint64(userID)%uint64(len(c.locks))]
}

// Admit validates and pays for one conversion request. On success the debit,
// the rate bookkeeping, and the queued conversion row have all been committed.
// On any rejection nothing has been mutated.
func (c *Controller) Admit(ctx context.Context, userID int64, title, kind string, quality int) (models.Conversion, error) {
	cost := c.cfg.CostFor(kind, quality)

	mu := c.ownerLock(userID)
	mu.Lock()
	defer mu.Unlock()

	count, date, lastConv, err := c.ledger.RateInfo(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Conversion{}, ErrUnknownAccount
	}
	if err != nil {
		return models.Conversion{}, fmt.Errorf("read rate info: %w", err)
	}

	today := c.now().In(rateWindowZone).Format("2006-01-02")
	if date != today {
		// The stored window belongs to a previous day; compare against a
		// fresh count but leave the row untouched until something is admitted.
		count = 0
	}
	if count >= c.cfg.DailyLimit {
		return models.Conversion{}, ErrDailyLimitExceeded
	}

	if remaining, active := c.cooldownRemaining(lastConv); active {
		return models.Conversion{}, &CooldownError{Remaining: remaining}
	}

	ok, err := c.ledger.Debit(ctx, userID, cost)
	if err != nil {
		return models.Conversion{}, fmt.Errorf("debit: %w", err)
	}
	if !ok {
		return models.Conversion{}, ErrInsufficientFunds
	}

	if err := c.ledger.RecordAdmission(ctx, userID, kind, today); err != nil {
		return models.Conversion{}, fmt.Errorf("record admission: %w", err)
	}
	conv, err := c.ledger.CreateConversion(ctx, userID, title, kind, quality, cost)
	if err != nil {
		return models.Conversion{}, fmt.Errorf("create conversion: %w", err)
	}
	return conv, nil
}

// cooldownRemaining parses the stored last-conversion timestamp. A malformed
// value means no cooldown (fail-open), never a hard error.
func (c *Controller) cooldownRemaining(lastConv *string) (time.Duration, bool) {
	if lastConv == nil || *lastConv == "" || c.cfg.Cooldown <= 0 {
		return 0, false
	}
	last, err := time.Parse(time.RFC3339, *lastConv)
	if err != nil {
		return 0, false
	}
	elapsed := c.now().UTC().Sub(last)
	if elapsed < c.cfg.Cooldown {
		return c.cfg.Cooldown - elapsed, true
	}
	return 0, false
}
