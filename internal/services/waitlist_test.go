package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/testutil"
)

func TestWaitlistActivate(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	_, pro, est := testutil.CreatePro(t, conn, "beta@example.fr", "73282932000074", "beta-bar")
	require.NoError(t, conn.Model(pro).Update("subscription_tier", models.TierWaitlistBeta).Error)
	require.NoError(t, conn.Model(est).Updates(map[string]any{"subscription_tier": models.TierWaitlistBeta, "status": models.StatusPending}).Error)
	testutil.CreatePro(t, conn, "free@example.fr", "35600000000048", "free-bar")
	pub := &events.MemoryPublisher{}
	svc := NewWaitlistService(conn, pub)

	page, err := svc.List(ctx, WaitlistFilter{Query: "beta"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items[0].Establishments, 1)
	require.NotNil(t, page.Items[0].User)
	assert.Equal(t, "beta@example.fr", page.Items[0].User.Email)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Waitlist)
	assert.Equal(t, int64(1), st.Converted)
	assert.Equal(t, int64(1), st.EstablishmentsByStatus[models.StatusPending])
	assert.Equal(t, int64(1), st.EstablishmentsByStatus[models.StatusApproved])

	_, err = svc.Activate(ctx, pro.ID, models.TierWaitlistBeta)
	_, ok := AsValidation(err)
	assert.True(t, ok)

	got, err := svc.Activate(ctx, pro.ID, models.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, got.SubscriptionTier)
	var reloaded models.Establishment
	require.NoError(t, conn.First(&reloaded, est.ID).Error)
	assert.Equal(t, models.TierPremium, reloaded.SubscriptionTier)
	assert.Equal(t, []string{events.WaitlistActivated}, pub.Types())

	_, err = svc.Activate(ctx, pro.ID, models.TierFree)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaitlistLaunch(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	svc := NewWaitlistService(conn, nil)
	var ests []*models.Establishment
	for _, p := range []struct{ email, siret, slug string }{
		{"a@example.fr", "73282932000074", "bar-a"},
		{"b@example.fr", "35600000000048", "bar-b"},
	} {
		_, pro, est := testutil.CreatePro(t, conn, p.email, p.siret, p.slug)
		require.NoError(t, conn.Model(pro).Update("subscription_tier", models.TierWaitlistBeta).Error)
		require.NoError(t, conn.Model(est).Update("subscription_tier", models.TierWaitlistBeta).Error)
		ests = append(ests, est)
	}

	n, err := svc.Launch(ctx, models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	for _, est := range ests {
		var e models.Establishment
		require.NoError(t, conn.First(&e, est.ID).Error)
		assert.Equal(t, models.TierFree, e.SubscriptionTier)
	}

	n, err = svc.Launch(ctx, models.TierFree)
	require.NoError(t, err)
	assert.Zero(t, n)
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Waitlist)
	assert.Equal(t, int64(2), st.Converted)
}
