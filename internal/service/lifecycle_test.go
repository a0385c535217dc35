package service

import (
	"context"
	"testing"

	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_ApproveConflictKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pendingDraft := draft("2030-01-07", "09:00", "")
	pendingDraft.Status = models.StatusPending
	pending, err := f.ledger.Create(ctx, pendingDraft)
	require.NoError(t, err)

	// Someone else takes the slot in the meantime.
	_, err = f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

	stored, err := f.ledger.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, pending.Version, stored.Version)
}

func TestLifecycle_Transitions(t *testing.T) {
	f := newFixture(t)
	f.requireApproval(t)
	ctx := context.Background()

	b, err := f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, b.Status)

	_, err = f.ledger.Complete(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot complete")

	approved, err := f.ledger.Approve(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, approved.Status)

	_, err = f.ledger.Approve(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	completed, err := f.ledger.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	_, err = f.ledger.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.ledger.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	assert.Equal(t, []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCompleted,
	}, f.queue.list())
}

func TestLifecycle_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	require.NoError(t, err)

	cancelled, err := f.ledger.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = f.ledger.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.ledger.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The freed slot is bookable again.
	_, err = f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	assert.NoError(t, err)
}

func TestLifecycle_Forward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taken, err := f.ledger.Create(ctx, draft("2030-01-07", "10:30", ""))
	require.NoError(t, err)
	b, err := f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	require.NoError(t, err)

	t.Run("ReassignOnly", func(t *testing.T) {
		fwd, err := f.ledger.Forward(ctx, b.ID, models.ForwardRequest{
			ForwardedTo: "partner@example.com",
			AdminNotes:  models.Set("handover"),
		})
		require.NoError(t, err)
		assert.Equal(t, "partner@example.com", fwd.ForwardedTo)
		assert.Equal(t, "handover", fwd.AdminNotes)
		assert.Equal(t, "09:00", fwd.ScheduledTime)
	})

	t.Run("MoveIntoTakenSlot", func(t *testing.T) {
		_, err := f.ledger.Forward(ctx, b.ID, models.ForwardRequest{
			ForwardedTo:   "partner@example.com",
			ScheduledDate: taken.ScheduledDate,
			ScheduledTime: taken.ScheduledTime,
		})
		assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	})

	t.Run("MoveFromOtherZone", func(t *testing.T) {
		// 20:45 in London on Monday is 02:15 IST on Tuesday.
		fwd, err := f.ledger.Forward(ctx, b.ID, models.ForwardRequest{
			ForwardedTo:   "partner@example.com",
			ScheduledDate: "2030-01-07",
			ScheduledTime: "20:45",
			Timezone:      "Europe/London",
		})
		require.NoError(t, err)
		assert.Equal(t, "2030-01-08", fwd.ScheduledDate)
		assert.Equal(t, "02:15", fwd.ScheduledTime)
		q := f.queue.list()
		assert.Equal(t, events.EventBookingForwarded, q[len(q)-1])
	})

	t.Run("DateWithoutTime", func(t *testing.T) {
		_, err := f.ledger.Forward(ctx, b.ID, models.ForwardRequest{ForwardedTo: "x@example.com", ScheduledDate: "2030-01-09"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("MissingTarget", func(t *testing.T) {
		_, err := f.ledger.Forward(ctx, b.ID, models.ForwardRequest{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("TerminalBooking", func(t *testing.T) {
		_, err := f.ledger.Cancel(ctx, taken.ID)
		require.NoError(t, err)
		_, err = f.ledger.Forward(ctx, taken.ID, models.ForwardRequest{ForwardedTo: "x@example.com"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}
