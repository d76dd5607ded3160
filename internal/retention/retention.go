// Package retention runs the periodic store sweep: removing long-dead invites and
// decided access requests, and writing missing business owner rows.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Result reports what one sweep changed.
type Result struct {
	InvitesDeleted  int64
	RequestsDeleted int64
	OwnersHealed    int64
}

// Sweeper runs retention and owner heal against a store.
type Sweeper struct {
	maint       store.Maintenance
	inviteDays  int
	requestDays int
	now         func() time.Time
}

// NewSweeper creates a sweeper. Unused invites are deleted inviteDays after they
// expired; decided requests requestDays after their decision.
func NewSweeper(maint store.Maintenance, inviteDays, requestDays int) *Sweeper {
	return &Sweeper{
		maint:       maint,
		inviteDays:  inviteDays,
		requestDays: requestDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealOwners inserts the missing owner member row of every business.
// The function is idempotent - safe to run repeatedly.
func (s *Sweeper) HealOwners(ctx context.Context) (int64, error) {
	healed, err := s.maint.HealBusinessOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to heal business owners: %w", err)
	}
	return healed, nil
}

// Run executes all sweep operations and logs the results.
// This is the main entry point called by the cron scheduler and the admin command.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	log.Info().
		Int("invite_retention_days", s.inviteDays).
		Int("request_retention_days", s.requestDays).
		Msg("Starting retention job")

	startTime := time.Now()
	now := s.now()
	var res Result
	var err error

	res.InvitesDeleted, err = s.maint.DeleteExpiredInvites(ctx, now.AddDate(0, 0, -s.inviteDays))
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired invites")
		return res, fmt.Errorf("invite cleanup failed: %w", err)
	}

	res.RequestsDeleted, err = s.maint.DeleteDecidedAccessRequests(ctx, now.AddDate(0, 0, -s.requestDays))
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete decided access requests")
		return res, fmt.Errorf("access request cleanup failed: %w", err)
	}

	res.OwnersHealed, err = s.HealOwners(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to heal business owners")
		return res, err
	}

	log.Info().
		Int64("invites_deleted", res.InvitesDeleted).
		Int64("access_requests_deleted", res.RequestsDeleted).
		Int64("owners_healed", res.OwnersHealed).
		Dur("duration", time.Since(startTime)).
		Msg("Retention job completed")

	return res, nil
}

// NewScheduler schedules Run daily at 03:00 UTC, or every minute in dev.
func NewScheduler(s *Sweeper, dev bool) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	schedule := "0 3 * * *"
	if dev {
		schedule = "* * * * *"
	}

	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Retention job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Retention job failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule retention job: %w", err)
	}

	return c, nil
}
