package expense

import (
	"testing"
	"time"

	"homehub/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMembers(ids ...string) []*models.HomeMember {
	members := make([]*models.HomeMember, 0, len(ids))
	base := time.Now()
	for i, id := range ids {
		members = append(members, &models.HomeMember{
			HomeID:    "home-1",
			UserID:    id,
			Role:      models.RoleMember,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return members
}

func sumCents(drafts []shareDraft) int64 {
	var total int64
	for _, d := range drafts {
		total += d.AmountCents
	}
	return total
}

func TestEqualSplitExact(t *testing.T) {
	drafts, err := computeShares(models.SplitEqual, 3000, "a", makeMembers("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	for _, d := range drafts {
		assert.EqualValues(t, 1000, d.AmountCents)
	}
	assert.EqualValues(t, 3000, sumCents(drafts))
}

func TestEqualSplitRemainderGoesToLast(t *testing.T) {
	drafts, err := computeShares(models.SplitEqual, 1000, "a", makeMembers("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.EqualValues(t, 333, drafts[0].AmountCents)
	assert.EqualValues(t, 333, drafts[1].AmountCents)
	assert.EqualValues(t, 334, drafts[2].AmountCents)
	assert.EqualValues(t, 1000, sumCents(drafts))

	assert.InDelta(t, 33.33, drafts[0].SplitPercent, 0.001)
	assert.InDelta(t, 33.34, drafts[2].SplitPercent, 0.001)
}

func TestEqualSplitSingleMemberFallsToPayer(t *testing.T) {
	drafts, err := computeShares(models.SplitEqual, 777, "a", makeMembers("a"), nil)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "a", drafts[0].UserID)
	assert.EqualValues(t, 777, drafts[0].AmountCents)
	assert.EqualValues(t, 100, drafts[0].SplitPercent)
}

func TestIndividualSplit(t *testing.T) {
	drafts, err := computeShares(models.SplitIndividual, 500, "payer", makeMembers("payer", "other"), nil)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "payer", drafts[0].UserID)
	assert.EqualValues(t, 500, drafts[0].AmountCents)
}

func TestCustomSplitRemainderGoesToLast(t *testing.T) {
	specs := []ShareSpec{
		{UserID: "a", Percent: 33.33},
		{UserID: "b", Percent: 33.33},
		{UserID: "c", Percent: 33.34},
	}
	drafts, err := computeShares(models.SplitCustom, 1001, "a", makeMembers("a", "b", "c"), specs)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.EqualValues(t, 1001, sumCents(drafts))
}

func TestCustomSplitRejectsDuplicates(t *testing.T) {
	specs := []ShareSpec{
		{UserID: "a", Percent: 50},
		{UserID: "a", Percent: 50},
	}
	_, err := computeShares(models.SplitCustom, 1000, "a", makeMembers("a", "b"), specs)
	assert.ErrorIs(t, err, ErrDuplicateShareUser)
}

func TestCustomSplitRejectsNonMembers(t *testing.T) {
	specs := []ShareSpec{
		{UserID: "a", Percent: 50},
		{UserID: "stranger", Percent: 50},
	}
	_, err := computeShares(models.SplitCustom, 1000, "a", makeMembers("a", "b"), specs)
	assert.ErrorIs(t, err, ErrShareUserNotMember)
}

func TestCustomSplitRejectsBadTotal(t *testing.T) {
	specs := []ShareSpec{
		{UserID: "a", Percent: 60},
		{UserID: "b", Percent: 50},
	}
	_, err := computeShares(models.SplitCustom, 1000, "a", makeMembers("a", "b"), specs)
	assert.ErrorIs(t, err, ErrBadPercentTotal)
}

func TestCustomSplitToleratesFloatDrift(t *testing.T) {
	specs := []ShareSpec{
		{UserID: "a", Percent: 50.004},
		{UserID: "b", Percent: 50},
	}
	// 100.004 is within the tolerance.
	drafts, err := computeShares(models.SplitCustom, 1000, "a", makeMembers("a", "b"), specs)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, sumCents(drafts))
}

func TestCustomSplitRequiresShares(t *testing.T) {
	_, err := computeShares(models.SplitCustom, 1000, "a", makeMembers("a", "b"), nil)
	assert.ErrorIs(t, err, ErrNoShares)
}

func TestUnknownSplitType(t *testing.T) {
	_, err := computeShares("WEIRD", 1000, "a", makeMembers("a", "b"), nil)
	assert.Error(t, err)
}
