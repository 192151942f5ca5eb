package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageRecord struct {
	userID  uuid.UUID
	modelID uuid.UUID
	day     time.Time
	hour    int
	count   int
}

// fakeRepo is an in-memory Repository for service tests. Window sums are
// computed from stored records the same way the SQL does, so clock-driven
// rollover behaves like the real store.
type fakeRepo struct {
	tiers   map[uuid.UUID]*TierInfo
	models  map[string]uuid.UUID
	access  map[string]bool
	limits  map[string]*WindowCounts
	records []usageRecord

	tierErr  error
	usageErr error
	writeErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tiers:  make(map[uuid.UUID]*TierInfo),
		models: make(map[string]uuid.UUID),
		access: make(map[string]bool),
		limits: make(map[string]*WindowCounts),
	}
}

func (f *fakeRepo) key(tier string, ref uuid.UUID) string { return tier + "|" + ref.String() }

func (f *fakeRepo) TierForUser(_ context.Context, userID uuid.UUID) (*TierInfo, error) {
	if f.tierErr != nil {
		return nil, f.tierErr
	}
	return f.tiers[userID], nil
}

func (f *fakeRepo) ResolveModel(_ context.Context, modelID string) (uuid.UUID, bool, error) {
	id, ok := f.models[modelID]
	return id, ok, nil
}

func (f *fakeRepo) ModelAccess(_ context.Context, tier string, ref uuid.UUID) (bool, error) {
	return f.access[f.key(tier, ref)], nil
}

func (f *fakeRepo) LimitsFor(_ context.Context, tier string, ref uuid.UUID) (*WindowCounts, error) {
	return f.limits[f.key(tier, ref)], nil
}

func (f *fakeRepo) UsageSums(_ context.Context, userID, ref uuid.UUID, day time.Time, hour int, monthStart time.Time) (WindowCounts, error) {
	if f.usageErr != nil {
		return WindowCounts{}, f.usageErr
	}
	var usage WindowCounts
	for _, rec := range f.records {
		if rec.userID != userID || rec.modelID != ref {
			continue
		}
		if rec.day.Equal(day) && rec.hour == hour {
			usage.Hourly += rec.count
		}
		if rec.day.Equal(day) {
			usage.Daily += rec.count
		}
		if !rec.day.Before(monthStart) {
			usage.Monthly += rec.count
		}
	}
	return usage, nil
}

func (f *fakeRepo) IncrementUsage(_ context.Context, userID, ref uuid.UUID, day time.Time, hour, count int) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := range f.records {
		rec := &f.records[i]
		if rec.userID == userID && rec.modelID == ref && rec.day.Equal(day) && rec.hour == hour {
			rec.count += count
			return nil
		}
	}
	f.records = append(f.records, usageRecord{userID: userID, modelID: ref, day: day, hour: hour, count: count})
	return nil
}

func (f *fakeRepo) EnabledModels(_ context.Context, tier string) ([]ModelRef, error) {
	var models []ModelRef
	for modelID, ref := range f.models {
		if f.access[f.key(tier, ref)] {
			models = append(models, ModelRef{RefID: ref, ModelID: modelID})
		}
	}
	return models, nil
}

// fixedClock pins the service to a known instant.
var testNow = time.Date(2025, time.March, 15, 14, 30, 0, 0, time.UTC)

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return testNow }
	return svc
}

func seedUserModel(repo *fakeRepo, limits WindowCounts) (uuid.UUID, string) {
	userID := uuid.New()
	modelRef := uuid.New()
	repo.tiers[userID] = &TierInfo{Tier: "free"}
	repo.models["fast-sdxl"] = modelRef
	repo.access[repo.key("free", modelRef)] = true
	repo.limits[repo.key("free", modelRef)] = &limits
	return userID, "fast-sdxl"
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCheckQuota_AllowedUnderAllLimits(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 5, Daily: 10, Monthly: 100})
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Empty(t, check.Reason)
	assert.Equal(t, WindowCounts{}, check.Usage)
	assert.Equal(t, WindowCounts{Hourly: 5, Daily: 10, Monthly: 100}, check.Limits)
}

func TestCheckQuota_DailyLimitReached(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 3, Monthly: 100})
	// Three rows earlier today in different hours, summing to 3.
	ref := repo.models[modelID]
	for _, h := range []int{9, 10, 11} {
		repo.records = append(repo.records, usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 15), hour: h, count: 1})
	}
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "Daily limit")
	assert.Contains(t, check.Reason, "3/3")
	assert.Equal(t, 3, check.Usage.Daily)
}

func TestCheckQuota_DailyTakesPrecedenceOverHourly(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 2, Monthly: 100})
	ref := repo.models[modelID]
	// Both hourly (2 >= 1) and daily (2 >= 2) exceeded in the current hour.
	repo.records = append(repo.records, usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 15), hour: 14, count: 2})
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "Daily limit")
	assert.NotContains(t, check.Reason, "Hourly")
}

func TestCheckQuota_HourlyLimitOnly(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 10, Monthly: 100})
	ref := repo.models[modelID]
	repo.records = append(repo.records, usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 15), hour: 14, count: 1})
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "Hourly limit")
	assert.Contains(t, check.Reason, "1/1")
}

func TestCheckQuota_MonthlyWindowBoundaries(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 10, Monthly: 5})
	ref := repo.models[modelID]
	// Earlier days this month count toward the monthly sum.
	repo.records = append(repo.records,
		usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 1), hour: 8, count: 2},
		usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 10), hour: 20, count: 2},
		// Previous month must be excluded.
		usageRecord{userID: userID, modelID: ref, day: day(2025, 2, 28), hour: 12, count: 50},
	)
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 4, check.Usage.Monthly)
	assert.Equal(t, 0, check.Usage.Daily)
}

func TestCheckQuota_DailyResetsOnNewDay(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 3, Monthly: 30})
	ref := repo.models[modelID]
	for _, h := range []int{9, 10, 11} {
		repo.records = append(repo.records, usageRecord{userID: userID, modelID: ref, day: day(2025, 3, 15), hour: h, count: 1})
	}
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "3/3")

	// Date rolls over: same records, fresh daily window.
	svc.now = func() time.Time { return testNow.Add(24 * time.Hour) }

	check, err = svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 0, check.Usage.Daily)
	assert.Equal(t, 3, check.Usage.Monthly)
}

func TestCheckQuota_UserWithoutProfile(t *testing.T) {
	repo := newFakeRepo()
	seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), uuid.New(), "fast-sdxl")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "User not found")
}

func TestCheckQuota_UnknownModel(t *testing.T) {
	repo := newFakeRepo()
	userID, _ := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, "no-such-model")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "Model not found")
}

func TestCheckQuota_NoLimitsConfigured(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	modelRef := uuid.New()
	repo.tiers[userID] = &TierInfo{Tier: "free"}
	repo.models["fast-sdxl"] = modelRef
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, "fast-sdxl")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "No quota limits configured")
}

func TestCheckQuota_StoreErrorIsDistinctFromDenial(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	repo.usageErr = errors.New("connection refused")
	svc := newTestService(repo)

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.Error(t, err)
	assert.Nil(t, check)
}

func TestCheckModelAccess_DefaultDeny(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	modelRef := uuid.New()
	repo.tiers[userID] = &TierInfo{Tier: "free"}
	repo.models["premium-model"] = modelRef
	// No tier_model_access row for (free, premium-model).
	svc := newTestService(repo)

	allowed, err := svc.CheckModelAccess(context.Background(), userID, "premium-model")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckModelAccess_EnabledFlag(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	svc := newTestService(repo)

	allowed, err := svc.CheckModelAccess(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckModelAccess_UnresolvedTierFailsClosed(t *testing.T) {
	repo := newFakeRepo()
	seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	svc := newTestService(repo)

	allowed, err := svc.CheckModelAccess(context.Background(), uuid.New(), "fast-sdxl")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestTrackUsage_CreatesBucketThenIncrements(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 10, Monthly: 100})
	svc := newTestService(repo)

	require.True(t, svc.TrackUsage(context.Background(), userID, modelID, 1))
	require.True(t, svc.TrackUsage(context.Background(), userID, modelID, 1))

	// A true increment, not an overwrite: one bucket holding 2.
	require.Len(t, repo.records, 1)
	assert.Equal(t, 2, repo.records[0].count)
	assert.Equal(t, day(2025, 3, 15), repo.records[0].day)
	assert.Equal(t, 14, repo.records[0].hour)
}

func TestTrackUsage_UnknownModelWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	userID, _ := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 10, Monthly: 100})
	svc := newTestService(repo)

	ok := svc.TrackUsage(context.Background(), userID, "no-such-model", 1)
	assert.False(t, ok)
	assert.Empty(t, repo.records)
}

func TestTrackUsage_WriteErrorSwallowed(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 10, Monthly: 100})
	repo.writeErr = errors.New("write failed")
	svc := newTestService(repo)

	ok := svc.TrackUsage(context.Background(), userID, modelID, 1)
	assert.False(t, ok)
}

func TestTrackUsage_DefaultsCountToOne(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 10, Daily: 10, Monthly: 100})
	svc := newTestService(repo)

	require.True(t, svc.TrackUsage(context.Background(), userID, modelID, 0))
	require.Len(t, repo.records, 1)
	assert.Equal(t, 1, repo.records[0].count)
}

func TestTrackUsage_CountTowardNextCheck(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 3, Monthly: 30})
	svc := newTestService(repo)

	require.True(t, svc.TrackUsage(context.Background(), userID, modelID, 1))

	check, err := svc.CheckQuota(context.Background(), userID, modelID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "Hourly limit")
	assert.Equal(t, 1, check.Usage.Hourly)
}

func TestUserQuotaStatus_EmptyForUnknownUser(t *testing.T) {
	repo := newFakeRepo()
	seedUserModel(repo, WindowCounts{Hourly: 1, Daily: 1, Monthly: 1})
	svc := newTestService(repo)

	status, err := svc.UserQuotaStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestUserQuotaStatus_PerEnabledModel(t *testing.T) {
	repo := newFakeRepo()
	userID, modelID := seedUserModel(repo, WindowCounts{Hourly: 5, Daily: 10, Monthly: 100})

	// A second model without an access grant must not appear.
	repo.models["pro-model"] = uuid.New()

	svc := newTestService(repo)

	status, err := svc.UserQuotaStatus(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, status, 1)
	require.Contains(t, status, modelID)
	assert.True(t, status[modelID].Allowed)
}

func TestResolveTier(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	repo.tiers[userID] = &TierInfo{Tier: "premium", IsPremium: true}
	svc := newTestService(repo)

	tier, err := svc.ResolveTier(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, tier)
	assert.Equal(t, "premium", tier.Tier)
	assert.True(t, tier.IsPremium)

	tier, err = svc.ResolveTier(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, tier)
}
