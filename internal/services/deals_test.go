package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/testutil"
)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestDealCreateAndValidate(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	_, _, est := testutil.CreatePro(t, conn, "pro@example.fr", "73282932000074", "chez-paul")
	svc := NewDealService(conn, nil)
	start := time.Now().UTC().Add(-time.Hour)

	d, err := svc.Create(ctx, est.ID, DealInput{
		Title:         "Happy hour",
		OriginalPrice: price("8.00"),
		DealPrice:     price("5.004"),
		StartsAt:      start,
		EndsAt:        start.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.Equal(t, "5", d.DealPrice.Decimal.String())
	assert.Equal(t, 38, d.DiscountPercent())
	assert.Equal(t, est.ProfessionalID, d.Establishment.ProfessionalID)

	inactive := false
	d, err = svc.Create(ctx, est.ID, DealInput{Title: "Plus tard", StartsAt: start, EndsAt: start.Add(time.Hour), IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, d.IsActive)

	_, err = svc.Create(ctx, est.ID, DealInput{
		OriginalPrice: price("5"),
		DealPrice:     price("6"),
		StartsAt:      start,
		EndsAt:        start.Add(-time.Minute),
	})
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "required", ve.Violations["title"])
	assert.Equal(t, "out_of_range", ve.Violations["ends_at"])
	assert.Equal(t, "out_of_range", ve.Violations["deal_price"])
}

func TestDealListActive(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	_, _, est := testutil.CreatePro(t, conn, "pro@example.fr", "73282932000074", "chez-paul")
	_, _, hidden := testutil.CreatePro(t, conn, "hidden@example.fr", "35600000000048", "cache")
	require.NoError(t, conn.Model(hidden).Update("status", models.StatusPending).Error)
	svc := NewDealService(conn, nil)
	now := time.Now().UTC()

	soon := testutil.CreateDeal(t, conn, est.ID, "Finit bientôt")
	require.NoError(t, conn.Model(soon).Update("ends_at", now.Add(time.Hour)).Error)
	testutil.CreateDeal(t, conn, est.ID, "Finit demain")
	testutil.CreateDeal(t, conn, hidden.ID, "Non publié")
	ended := testutil.CreateDeal(t, conn, est.ID, "Terminé")
	require.NoError(t, conn.Model(ended).Update("ends_at", now.Add(-time.Minute)).Error)

	deals, err := svc.ListActive(ctx, now, "")
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, "Finit bientôt", deals[0].Title)
	require.NotNil(t, deals[0].Establishment)
	assert.Equal(t, "chez-paul", deals[0].Establishment.Slug)

	deals, err = svc.ListActive(ctx, now, "cache")
	require.NoError(t, err)
	assert.Empty(t, deals)

	n, err := svc.DeactivateEnded(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDealEngage(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	_, _, est := testutil.CreatePro(t, conn, "pro@example.fr", "73282932000074", "chez-paul")
	deal := testutil.CreateDeal(t, conn, est.ID, "Happy hour")
	pub := &events.MemoryPublisher{}
	svc := NewDealService(conn, pub)

	st, err := svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteLike, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Likes)

	_, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteLike, SessionID: "s2"})
	require.NoError(t, err)
	st, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteDislike, SessionID: "s3"})
	require.NoError(t, err)
	assert.Equal(t, &DealStats{DealID: deal.ID, Likes: 2, Dislikes: 1, LikeRatio: 0.67}, st)

	// Same session changes its mind.
	st, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteDislike, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Likes)
	assert.Equal(t, int64(2), st.Dislikes)

	var votes int64
	conn.Model(&models.DealEngagement{}).Where("deal_id = ?", deal.ID).Count(&votes)
	assert.Equal(t, int64(3), votes)
	assert.Len(t, pub.Events(), 4)

	_, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: "love", SessionID: "s1"})
	_, ok := AsValidation(err)
	assert.True(t, ok)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteLike, SessionID: "s9"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDealUpdateDelete(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	_, _, est := testutil.CreatePro(t, conn, "pro@example.fr", "73282932000074", "chez-paul")
	deal := testutil.CreateDeal(t, conn, est.ID, "Happy hour")
	svc := NewDealService(conn, nil)

	updated, err := svc.Update(ctx, deal.ID, DealInput{Title: "Apéro", StartsAt: deal.StartsAt, EndsAt: deal.EndsAt.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "Apéro", updated.Title)
	assert.Equal(t, est.OwnerUserID(), updated.OwnerUserID())

	list, err := svc.ListByEstablishment(ctx, est.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.Engage(ctx, deal.ID, EngageInput{Kind: models.VoteLike, SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, deal.ID))
	assert.ErrorIs(t, svc.Delete(ctx, deal.ID), ErrNotFound)
	_, err = svc.Get(ctx, deal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
