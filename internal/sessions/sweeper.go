package sessions

import (
	"fmt"
	"log/slog"

	cron "github.com/netresearch/go-cron"
)

// Sweeper periodically reaps expired sessions and stale confirmations.
// Expiry is also enforced opportunistically on access; the sweep exists so
// abandoned sessions don't linger until someone happens to touch the store.
type Sweeper struct {
	store *Store
	cron  *cron.Cron
}

// NewSweeper schedules SweepExpired on the given 5-field cron spec.
func NewSweeper(store *Store, spec string) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := store.SweepExpired(); n > 0 {
			slog.Info("session sweep", "expired", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse sweep spec %q: %w", spec, err)
	}
	return &Sweeper{store: store, cron: c}, nil
}

// Start begins the sweep schedule in its own goroutine.
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (sw *Sweeper) Stop() {
	ctx := sw.cron.Stop()
	<-ctx.Done()
}
