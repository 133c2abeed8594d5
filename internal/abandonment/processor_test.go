package abandonment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// detected seeds an idle cart and runs detection so its campaign is planned.
func (f *recoveryFixture) detected(t *testing.T, contactEmail string) (*models.Cart, *models.AbandonmentRecord) {
	t.Helper()
	c := f.seedCart(t, 40*time.Minute, contactEmail)
	_, err := f.detector.Run(context.Background())
	require.NoError(t, err)
	return c, f.record(t, c.ID)
}

func payloadFor(record *models.AbandonmentRecord, stage enums.ReminderStage) ReminderPayload {
	return ReminderPayload{RecordID: record.ID, CartID: record.CartID, Stage: stage}
}

func TestSendReminderDeliversOncePerStage(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "shopper@example.com")
	f.advance(25 * time.Minute)

	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	require.Equal(t, 1, f.sender.count())

	msg := f.sender.sent[0]
	assert.Equal(t, "shopper@example.com", msg.To)
	assert.Equal(t, "shop@example.com", msg.From)
	assert.Equal(t, "cart_reminder_1h", msg.Template)
	assert.Equal(t, "https://shop.test/cart/tok-"+c.ID.String(), msg.Data.RecoveryURL)
	assert.Equal(t, int64(3000), msg.Data.CartValueCents)

	stored := f.record(t, c.ID)
	assert.Equal(t, enums.AbandonmentStatusReminding, stored.Status)
	log := stored.Stages[enums.ReminderStage1h]
	require.NotNil(t, log.SentAt)
	assert.Equal(t, 1, log.Attempts)
	require.NotNil(t, stored.NextReminderAt)
	assert.WithinDuration(t, record.IdleAt.Add(24*time.Hour), *stored.NextReminderAt, time.Second)

	outcome, err = f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 1, f.sender.count())
}

func TestSendReminderRespectsExistingClaim(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "shopper@example.com")
	f.advance(25 * time.Minute)
	f.guard.claims[guardScope+":"+record.ID.String()+":1h"] = true

	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 0, f.sender.count())
	assert.False(t, f.record(t, c.ID).Stages[enums.ReminderStage1h].Settled())
}

func TestSendReminderFailureReleasesClaimForRetry(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "shopper@example.com")
	f.advance(25 * time.Minute)
	f.sender.err = errors.New("smtp unavailable")

	_, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.False(t, f.guard.held(guardScope, record.ID.String()+":1h"))

	log := f.record(t, c.ID).Stages[enums.ReminderStage1h]
	assert.Equal(t, 1, log.Attempts)
	assert.Contains(t, log.LastError, "smtp unavailable")
	assert.Nil(t, log.SentAt)

	f.sender.err = nil
	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	log = f.record(t, c.ID).Stages[enums.ReminderStage1h]
	assert.Equal(t, 2, log.Attempts)
	assert.Empty(t, log.LastError)
}

func TestSendReminderSkipsIneligibleCarts(t *testing.T) {
	cases := []struct {
		name   string
		email  string
		mutate func(t *testing.T, f *recoveryFixture, c *models.Cart)
		reason string
	}{
		{name: "no contact", reason: SkipNoContact},
		{
			name:  "shopper returned",
			email: "back@example.com",
			mutate: func(t *testing.T, f *recoveryFixture, c *models.Cart) {
				require.NoError(t, f.db.Model(&models.Cart{}).Where("id = ?", c.ID).Update("is_abandoned", false).Error)
			},
			reason: SkipCartActive,
		},
		{
			name:  "cart emptied",
			email: "empty@example.com",
			mutate: func(t *testing.T, f *recoveryFixture, c *models.Cart) {
				require.NoError(t, f.db.Where("cart_id = ?", c.ID).Delete(&models.CartItem{}).Error)
			},
			reason: SkipCartEmpty,
		},
		{
			name:  "cart expired",
			email: "gone@example.com",
			mutate: func(t *testing.T, f *recoveryFixture, c *models.Cart) {
				require.NoError(t, f.db.Model(&models.Cart{}).Where("id = ?", c.ID).Update("expired_at", f.now).Error)
			},
			reason: SkipCartExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRecoveryFixture(t)
			c, record := f.detected(t, tc.email)
			f.advance(25 * time.Minute)
			if tc.mutate != nil {
				tc.mutate(t, f, c)
			}

			outcome, err := f.processor.SendReminder(context.Background(), payloadFor(record, enums.ReminderStage1h))
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, outcome)
			assert.Equal(t, 0, f.sender.count())

			stored := f.record(t, c.ID)
			assert.Equal(t, tc.reason, stored.Stages[enums.ReminderStage1h].SkippedReason)
			require.NotNil(t, stored.NextReminderAt)
			assert.WithinDuration(t, record.IdleAt.Add(24*time.Hour), *stored.NextReminderAt, time.Second)
		})
	}
}

func TestSendReminderCreditsConvertedCart(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "buyer@example.com")
	f.advance(30 * time.Minute)
	_, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	converted, err := f.carts.MarkConverted(ctx, c.ID, f.now)
	require.NoError(t, err)
	require.True(t, converted)

	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage24h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecovered, outcome)
	assert.Equal(t, 1, f.sender.count())

	stored := f.record(t, c.ID)
	assert.Equal(t, enums.AbandonmentStatusRecovered, stored.Status)
	assert.Equal(t, int64(3000), stored.RecoveredValueCents)
	assert.Nil(t, stored.NextReminderAt)
	assert.NotNil(t, stored.Stages[enums.ReminderStage1h].ConvertedAt)
	assert.Nil(t, stored.Stages[enums.ReminderStage24h].SentAt)
}

func TestFinalStageClosesCampaignAsLost(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "shopper@example.com")
	f.advance(72 * time.Hour)

	for _, stage := range enums.ReminderStages {
		outcome, err := f.processor.SendReminder(ctx, payloadFor(record, stage))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome, stage)
	}

	stored := f.record(t, c.ID)
	assert.Equal(t, enums.AbandonmentStatusLost, stored.Status)
	assert.Nil(t, stored.NextReminderAt)
	assert.Equal(t, 3, f.sender.count())
}

func TestSendReminderValidatesPayload(t *testing.T) {
	f := newRecoveryFixture(t)
	_, record := f.detected(t, "shopper@example.com")

	_, err := f.processor.SendReminder(context.Background(), payloadFor(record, "48h"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestProcessBatchSendsLatestDueStage(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "late@example.com")
	f.advance(30 * time.Hour)

	res, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Records: 1, Sent: 1, Skipped: 1}, res)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "cart_reminder_24h", f.sender.sent[0].Template)

	stored := f.record(t, c.ID)
	assert.Equal(t, SkipSuperseded, stored.Stages[enums.ReminderStage1h].SkippedReason)
	assert.NotNil(t, stored.Stages[enums.ReminderStage24h].SentAt)
	require.NotNil(t, stored.NextReminderAt)
	assert.WithinDuration(t, record.IdleAt.Add(72*time.Hour), *stored.NextReminderAt, time.Second)

	res, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}

func TestProcessBatchContinuesPastFailures(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	failing, _ := f.detected(t, "bounce@example.com")
	ok, _ := f.detected(t, "ok@example.com")
	f.sender.failFor["bounce@example.com"] = errors.New("mailbox full")
	f.advance(time.Hour)

	res, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Records: 2, Sent: 1, Failed: 1}, res)

	assert.NotNil(t, f.record(t, ok.ID).Stages[enums.ReminderStage1h].SentAt)
	failed := f.record(t, failing.ID).Stages[enums.ReminderStage1h]
	assert.Equal(t, 1, failed.Attempts)
	assert.Contains(t, failed.LastError, "mailbox full")
}

func TestProcessBatchGivesUpAfterMaxAttempts(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "bounce@example.com")
	record.Stage(enums.ReminderStage1h).Attempts = 3
	_, err := f.records.SaveProgress(ctx, record)
	require.NoError(t, err)
	f.advance(time.Hour)

	res, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, SkipDeliveryFailed, f.record(t, c.ID).Stages[enums.ReminderStage1h].SkippedReason)
}

func TestRecordEngagement(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	_, record := f.detected(t, "reader@example.com")

	_, err := f.processor.RecordEngagement(ctx, record.ID, enums.ReminderStage1h, enums.EngagementOpened)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	f.advance(25 * time.Minute)
	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, outcome)

	f.advance(time.Hour)
	clickedAt := f.now
	updated, err := f.processor.RecordEngagement(ctx, record.ID, enums.ReminderStage1h, enums.EngagementClicked)
	require.NoError(t, err)
	log := updated.Stages[enums.ReminderStage1h]
	require.NotNil(t, log.OpenedAt)
	require.NotNil(t, log.ClickedAt)
	assert.True(t, log.ClickedAt.Equal(clickedAt))

	f.advance(time.Hour)
	again, err := f.processor.RecordEngagement(ctx, record.ID, enums.ReminderStage1h, enums.EngagementClicked)
	require.NoError(t, err)
	assert.True(t, again.Stages[enums.ReminderStage1h].ClickedAt.Equal(clickedAt))

	_, err = f.processor.RecordEngagement(ctx, record.ID, enums.ReminderStage24h, "bounced")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSendReminderWaitsForReplannedStage(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "shopper@example.com")
	firstIdle := record.IdleAt
	f.advance(25 * time.Minute)
	outcome, err := f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage1h))
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, outcome)

	f.advance(2 * time.Hour)
	returnedAt := f.now
	require.NoError(t, f.carts.MarkActivity(ctx, c.ID, returnedAt))
	f.advance(40 * time.Minute)
	res, err := f.detector.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Flagged)

	replanned := f.record(t, c.ID).Stages[enums.ReminderStage24h]
	require.NotNil(t, replanned.ScheduledAt)
	assert.WithinDuration(t, returnedAt.Add(24*time.Hour), *replanned.ScheduledAt, time.Second)

	// the job enqueued for the first idle period fires at its old run time
	f.now = firstIdle.Add(24 * time.Hour)
	outcome, err = f.processor.SendReminder(ctx, payloadFor(record, enums.ReminderStage24h))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 1, f.sender.count())
	assert.False(t, f.record(t, c.ID).Stages[enums.ReminderStage24h].Settled())

	f.now = returnedAt.Add(24*time.Hour + time.Minute)
	batch, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Records: 1, Sent: 1}, batch)
	require.Equal(t, 2, f.sender.count())
	assert.Equal(t, "cart_reminder_24h", f.sender.sent[1].Template)
}

func TestProcessBatchDefersHeldClaim(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c, record := f.detected(t, "held@example.com")
	f.advance(time.Hour)
	claim := record.ID.String() + ":1h"
	f.guard.claims[guardScope+":"+claim] = true

	res, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Records: 1, Deferred: 1}, res)
	assert.Equal(t, 0, f.sender.count())
	stored := f.record(t, c.ID)
	require.NotNil(t, stored.NextReminderAt)
	assert.WithinDuration(t, f.now.Add(claimRetryDelay), *stored.NextReminderAt, time.Second)
	assert.False(t, stored.Stages[enums.ReminderStage1h].Settled())

	res, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)

	require.NoError(t, f.guard.Release(ctx, guardScope, claim))
	f.advance(claimRetryDelay)
	res, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Records: 1, Sent: 1}, res)
	assert.NotNil(t, f.record(t, c.ID).Stages[enums.ReminderStage1h].SentAt)
}
