package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"billing-verify/internal/config"
	"billing-verify/internal/database"
	"billing-verify/internal/models"
	"billing-verify/internal/ratelimit"
)

type fakeVerifier struct {
	calls   int
	outcome VerifyOutcome
	fail    *VerifyError
}

func (f *fakeVerifier) Verify(ctx context.Context, packageName, subscriptionID, purchaseToken string, nowMS int64) (*VerifyOutcome, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := f.outcome
	return &out, nil
}

func activeOutcome() VerifyOutcome {
	return VerifyOutcome{
		Active:       true,
		Status:       models.StatusPaidActive,
		AutoRenewing: true,
		ExpiryTimeMS: time.Now().Add(30 * 24 * time.Hour).UnixMilli(),
		RawResponse:  `{"subscriptionState":"SUBSCRIPTION_STATE_ACTIVE"}`,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppRegistry: map[string]*config.AppRegistryItem{
			"app1": {PackageName: "com.example.app", SubscriptionIDs: []string{"sub_monthly"}},
		},
		PurchaseTokenHashPepper: "pepper",
		CacheTTLMinutes:         10,
		RateLimitIPPerMinute:    60,
		RateLimitUserPerMinute:  30,
		RateLimitTokenPerMinute: 10,
		StoreRawGoogleResponse:  true,
	}
}

func newTestService(t *testing.T, cfg *config.Config, verifier RemoteVerifier) (*VerifyService, *database.VerificationStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SubscriptionVerification{}, &models.Entitlement{}))

	store := database.NewVerificationStore(db)
	limiter := ratelimit.NewSlidingWindow(60 * time.Second)
	return NewVerifyService(cfg, limiter, verifier, store, nil, nil), store
}

func validInput() *VerifyInput {
	return &VerifyInput{
		AppID:          "app1",
		PackageName:    "com.example.app",
		SubscriptionID: "sub_monthly",
		PurchaseToken:  "opaque-purchase-token-000001",
		UserID:         "user-00000001",
		CallerIP:       "203.0.113.7",
	}
}

func TestVerifyAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown app_id is rejected", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})
		in := validInput()
		in.AppID = "ghost"

		_, verr := svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, FailureInvalidRequest, verr.Kind)
		assert.Equal(t, "FORBIDDEN_APP", verr.Code)
		assert.Equal(t, 403, verr.Status)
	})

	t.Run("package_name must match the registry", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})
		in := validInput()
		in.PackageName = "com.example.other"

		_, verr := svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, "FORBIDDEN_APP", verr.Code)
	})

	t.Run("subscription_id must be allowed for the app", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})
		in := validInput()
		in.SubscriptionID = "sub_weekly"

		_, verr := svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, "INVALID_REQUEST", verr.Code)
		assert.Equal(t, 400, verr.Status)
	})

	t.Run("client key is enforced only when configured", func(t *testing.T) {
		sum := sha256.Sum256([]byte("secret"))
		cfg := testConfig()
		cfg.ClientKeys = map[string][]string{"app1": {"sha256:" + hex.EncodeToString(sum[:])}}
		fake := &fakeVerifier{outcome: activeOutcome()}
		svc, _ := newTestService(t, cfg, fake)

		_, verr := svc.Verify(ctx, validInput())
		require.NotNil(t, verr)
		assert.Equal(t, FailureUnauthorized, verr.Kind)

		in := validInput()
		in.ClientKey = "wrong"
		_, verr = svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, FailureUnauthorized, verr.Kind)

		in.ClientKey = "secret"
		result, verr := svc.Verify(ctx, in)
		require.Nil(t, verr)
		assert.Equal(t, models.StatusPaidActive, result.Status)
	})
}

func TestVerifyAdmission(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects on the IP key once its limit is reached", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimitIPPerMinute = 2
		svc, _ := newTestService(t, cfg, &fakeVerifier{outcome: activeOutcome()})

		for i := 0; i < 2; i++ {
			_, verr := svc.Verify(ctx, validInput())
			require.Nil(t, verr)
		}

		_, verr := svc.Verify(ctx, validInput())
		require.NotNil(t, verr)
		assert.Equal(t, FailureRateLimited, verr.Kind)
		assert.Equal(t, "Too many requests from IP", verr.Message)
		assert.True(t, verr.Retryable())
	})

	t.Run("user key is scoped to the app and user", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimitUserPerMinute = 1
		svc, _ := newTestService(t, cfg, &fakeVerifier{outcome: activeOutcome()})

		in := validInput()
		_, verr := svc.Verify(ctx, in)
		require.Nil(t, verr)

		// Different caller IP, same user: the user bucket rejects.
		in = validInput()
		in.CallerIP = "203.0.113.8"
		_, verr = svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, "Too many requests for user_id", verr.Message)
	})

	t.Run("checks that ran consume their slot even when a later key rejects", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimitUserPerMinute = 2
		cfg.RateLimitTokenPerMinute = 1
		svc, _ := newTestService(t, cfg, &fakeVerifier{outcome: activeOutcome()})

		in := validInput()
		in.Force = true
		_, verr := svc.Verify(ctx, in)
		require.Nil(t, verr)

		// Second call passes ip and user, then fails on the token key; the
		// user slot it consumed still counts.
		_, verr = svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, "Too many requests for purchase_token", verr.Message)

		_, verr = svc.Verify(ctx, in)
		require.NotNil(t, verr)
		assert.Equal(t, "Too many requests for user_id", verr.Message)
	})
}

func TestVerifyPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("first verification persists record and entitlement", func(t *testing.T) {
		fake := &fakeVerifier{outcome: activeOutcome()}
		svc, store := newTestService(t, testConfig(), fake)

		result, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)
		assert.True(t, result.Active)
		assert.Equal(t, models.StatusPaidActive, result.Status)
		assert.True(t, result.AutoRenewing)
		assert.Equal(t, "app1", result.AppID)
		assert.Equal(t, "com.example.app", result.PackageName)
		assert.Equal(t, "sub_monthly", result.SubscriptionID)

		entitlement, err := store.GetEntitlement(ctx, "app1", "user-00000001")
		require.NoError(t, err)
		require.NotNil(t, entitlement)
		assert.Equal(t, models.StatusPaidActive, entitlement.Status)
		assert.True(t, entitlement.Active)
	})

	t.Run("second call within the ttl is answered from history", func(t *testing.T) {
		fake := &fakeVerifier{outcome: activeOutcome()}
		svc, _ := newTestService(t, testConfig(), fake)

		first, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)
		require.Equal(t, 1, fake.calls)

		second, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)
		assert.Equal(t, 1, fake.calls, "cache hit must not invoke the remote verifier")
		assert.Equal(t, first, second, "cached response must match the fresh one exactly")
	})

	t.Run("force bypasses the cache gate", func(t *testing.T) {
		fake := &fakeVerifier{outcome: activeOutcome()}
		svc, _ := newTestService(t, testConfig(), fake)

		_, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)

		in := validInput()
		in.Force = true
		_, verr = svc.Verify(ctx, in)
		require.Nil(t, verr)
		assert.Equal(t, 2, fake.calls)
	})

	t.Run("terminal not-found outcomes persist like any other", func(t *testing.T) {
		fake := &fakeVerifier{outcome: VerifyOutcome{Status: models.StatusExpired}}
		svc, store := newTestService(t, testConfig(), fake)

		result, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)
		assert.False(t, result.Active)
		assert.Equal(t, models.StatusExpired, result.Status)

		entitlement, err := store.GetEntitlement(ctx, "app1", "user-00000001")
		require.NoError(t, err)
		require.NotNil(t, entitlement)
		assert.Equal(t, models.StatusExpired, entitlement.Status)
	})

	t.Run("classified upstream failures pass through untouched", func(t *testing.T) {
		fake := &fakeVerifier{fail: errUpstreamUnavailable("Google API unavailable")}
		svc, store := newTestService(t, testConfig(), fake)

		_, verr := svc.Verify(ctx, validInput())
		require.NotNil(t, verr)
		assert.Equal(t, FailureUpstreamUnavailable, verr.Kind)
		assert.Equal(t, "GOOGLE_API_UNAVAILABLE", verr.Code)

		// Nothing persisted on failure.
		entitlement, err := store.GetEntitlement(ctx, "app1", "user-00000001")
		require.NoError(t, err)
		assert.Nil(t, entitlement)
	})
}

func TestEntitlementLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a registered app", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})

		_, verr := svc.Entitlement(ctx, "ghost", "user-00000001", "")
		require.NotNil(t, verr)
		assert.Equal(t, "FORBIDDEN_APP", verr.Code)
	})

	t.Run("returns nil for a user that never verified", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})

		entitlement, verr := svc.Entitlement(ctx, "app1", "user-00000001", "")
		require.Nil(t, verr)
		assert.Nil(t, entitlement)
	})

	t.Run("returns the projection after a verification", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(), &fakeVerifier{outcome: activeOutcome()})

		_, verr := svc.Verify(ctx, validInput())
		require.Nil(t, verr)

		entitlement, verr := svc.Entitlement(ctx, "app1", "user-00000001", "")
		require.Nil(t, verr)
		require.NotNil(t, entitlement)
		assert.Equal(t, models.StatusPaidActive, entitlement.Status)
	})
}

func TestRemainingCacheTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute

	t.Run("a brand-new record has the full window", func(t *testing.T) {
		assert.Equal(t, ttl, remainingCacheTTL(now, ttl, now))
	})

	t.Run("an aged record has only its remainder", func(t *testing.T) {
		// Repopulating a lost Redis entry from this record must expire with
		// the record, not ttl after the repopulating request.
		createdAt := now.Add(-7 * time.Minute)
		assert.Equal(t, 3*time.Minute, remainingCacheTTL(createdAt, ttl, now))
	})

	t.Run("a record past the window clamps to zero", func(t *testing.T) {
		createdAt := now.Add(-11 * time.Minute)
		assert.Equal(t, time.Duration(0), remainingCacheTTL(createdAt, ttl, now))
	})
}
