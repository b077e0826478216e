package reward

import (
	"context"
	"log"
	"time"

	"media-conversion-bot/internal/admission"
	"media-conversion-bot/internal/notify"
)

// Ledger is the slice of the store the reward scheduler needs.
type Ledger interface {
	AccountsNeedingReward(ctx context.Context, today string) ([]int64, error)
	GrantReward(ctx context.Context, userID int64, amount int, today string) (bool, error)
}

// Scheduler credits every account a fixed reward once per calendar day of
// the rate-window zone. The conditional grant makes each credit idempotent
// per account per day, so a restart mid-sweep never double-pays.
type Scheduler struct {
	amount   int
	ledger   Ledger
	notifier notify.Notifier
	now      func() time.Time
}

func NewScheduler(amount int, ledger Ledger, notifier notify.Notifier) *Scheduler {
	return &Scheduler{amount: amount, ledger: ledger, notifier: notifier, now: time.Now}
}

// Run sweeps once immediately (covering restarts after midnight) and then at
// every day rollover until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.amount <= 0 {
		return
	}
	s.Sweep(ctx)
	for {
		wait := time.Until(admission.NextRollover(s.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep credits every account that has not been rewarded today.
func (s *Scheduler) Sweep(ctx context.Context) {
	today := admission.Today()
	ids, err := s.ledger.AccountsNeedingReward(ctx, today)
	if err != nil {
		log.Printf("reward: list candidates: %v", err)
		return
	}
	credited := 0
	for _, id := range ids {
		granted, err := s.ledger.GrantReward(ctx, id, s.amount, today)
		if err != nil {
			log.Printf("reward: grant to %d: %v", id, err)
			continue
		}
		if !granted {
			continue
		}
		credited++
		// Notification is best-effort; the credit already committed.
		if _, err := s.notifier.SendMessage(ctx, id,
			"You received your daily reward. Enjoy!"); err != nil {
			log.Printf("reward: notify %d: %v", id, err)
		}
	}
	if credited > 0 {
		log.Printf("reward: credited %d accounts for %s", credited, today)
	}
}
