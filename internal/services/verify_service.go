package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-verify/internal/config"
	"billing-verify/internal/database"
	"billing-verify/internal/models"
	"billing-verify/internal/ratelimit"
	"billing-verify/internal/security"
	"billing-verify/pkg/logging"
)

// VerifyService runs the end-to-end verification pipeline:
// admit → authorize → dedupe → remote verify → persist → respond.
type VerifyService struct {
	cfg      *config.Config
	limiter  *ratelimit.SlidingWindow
	verifier RemoteVerifier
	store    *database.VerificationStore
	cache    *OutcomeCache
	notifier *WebhookNotifier
}

// NewVerifyService wires the pipeline. cache and notifier may be nil.
func NewVerifyService(
	cfg *config.Config,
	limiter *ratelimit.SlidingWindow,
	verifier RemoteVerifier,
	store *database.VerificationStore,
	cache *OutcomeCache,
	notifier *WebhookNotifier,
) *VerifyService {
	return &VerifyService{
		cfg:      cfg,
		limiter:  limiter,
		verifier: verifier,
		store:    store,
		cache:    cache,
		notifier: notifier,
	}
}

// VerifyInput is one admission-checked verification request.
type VerifyInput struct {
	AppID          string
	PackageName    string
	SubscriptionID string
	PurchaseToken  string
	UserID         string
	Force          bool
	ClientKey      string
	CallerIP       string
	RequestID      string
}

// VerifyResponse is the canonical outcome shape, identical for the cache-hit
// and fresh-verify paths.
type VerifyResponse struct {
	Active         bool   `json:"active"`
	Status         string `json:"status"`
	IsTrial        bool   `json:"is_trial"`
	AutoRenewing   bool   `json:"auto_renewing"`
	ExpiryTimeMS   int64  `json:"expiry_time_ms"`
	AppID          string `json:"app_id"`
	PackageName    string `json:"package_name"`
	SubscriptionID string `json:"subscription_id"`
}

// Verify runs one request through the pipeline and returns either the
// canonical outcome or a classified failure.
func (s *VerifyService) Verify(ctx context.Context, in *VerifyInput) (*VerifyResponse, *VerifyError) {
	fingerprint := security.HashPurchaseToken(in.PurchaseToken, s.cfg.PurchaseTokenHashPepper)

	// ADMIT: ip, then user, then token. Each executed check consumes its
	// slot; only a failed check short-circuits the rest.
	if !s.limiter.Allow("ip:"+in.CallerIP, s.cfg.RateLimitIPPerMinute) {
		return nil, errRateLimited("Too many requests from IP")
	}
	if !s.limiter.Allow(fmt.Sprintf("user:%s:%s", in.AppID, in.UserID), s.cfg.RateLimitUserPerMinute) {
		return nil, errRateLimited("Too many requests for user_id")
	}
	if !s.limiter.Allow(fmt.Sprintf("token:%s:%s", in.AppID, fingerprint), s.cfg.RateLimitTokenPerMinute) {
		return nil, errRateLimited("Too many requests for purchase_token")
	}

	// AUTHORIZE against the app registry.
	app := s.cfg.GetApp(in.AppID)
	if app == nil {
		return nil, errForbiddenApp("Unknown app_id")
	}
	if in.PackageName != app.PackageName {
		return nil, errForbiddenApp("package_name does not match app_id")
	}
	if !app.AllowsSubscription(in.SubscriptionID) {
		return nil, errInvalidRequest("subscription_id is not allowed for app_id")
	}
	if verr := s.checkClientKey(in.AppID, in.ClientKey); verr != nil {
		return nil, verr
	}

	// DEDUPE_CHECK: a recent record answers without a remote call unless the
	// caller forces a fresh verification. A forced request also drops the
	// cached outcome: the caller has declared it stale, and it must not keep
	// serving other requests if the fresh verification fails below.
	if in.Force {
		s.cache.Invalidate(ctx, in.AppID, fingerprint)
	}
	if !in.Force {
		if outcome := s.cache.Get(ctx, in.AppID, fingerprint); outcome != nil {
			s.logCacheHit(in, fingerprint, outcome.Status)
			return s.respond(in, outcome), nil
		}

		cached, err := s.store.RecentVerification(ctx, in.AppID, fingerprint, s.cacheTTL())
		if err != nil {
			// A failed lookup degrades to a fresh verification.
			logging.Errorf("Verification cache lookup failed: %v", err)
		} else if cached != nil {
			outcome := &VerifyOutcome{
				Active:       cached.Active,
				Status:       cached.Status,
				IsTrial:      cached.IsTrial,
				AutoRenewing: cached.AutoRenewing,
				ExpiryTimeMS: cached.ExpiryTimeMS,
			}
			// Repopulate Redis only for the record's remaining window.
			// Re-arming the full TTL here would let the entry outlive the
			// record that produced it.
			s.cache.SetFor(ctx, in.AppID, fingerprint, outcome,
				remainingCacheTTL(cached.CreatedAt, s.cacheTTL(), time.Now()))
			s.logCacheHit(in, fingerprint, outcome.Status)
			return s.respond(in, outcome), nil
		}
	}

	// REMOTE_VERIFY.
	nowMS := time.Now().UnixMilli()
	outcome, err := s.verifier.Verify(ctx, in.PackageName, in.SubscriptionID, in.PurchaseToken, nowMS)
	if err != nil {
		var verr *VerifyError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, errUpstreamUnavailable("Google API unavailable")
	}

	// PERSIST: the record append and entitlement upsert commit together. A
	// persistence failure is terminal for the request even though the
	// outcome is already known.
	raw := ""
	if s.cfg.StoreRawGoogleResponse {
		raw = outcome.RawResponse
	}
	attempt := &database.VerificationAttempt{
		AppID:             in.AppID,
		PackageName:       in.PackageName,
		SubscriptionID:    in.SubscriptionID,
		UserID:            in.UserID,
		PurchaseTokenHash: fingerprint,
		Active:            outcome.Active,
		Status:            outcome.Status,
		ExpiryTimeMS:      outcome.ExpiryTimeMS,
		IsTrial:           outcome.IsTrial,
		AutoRenewing:      outcome.AutoRenewing,
		RawGoogleResponse: raw,
		NowMS:             nowMS,
	}
	if err := s.store.SaveVerification(ctx, attempt); err != nil {
		logging.Event("db_write_failed", map[string]interface{}{
			"request_id": in.RequestID,
			"error":      err.Error(),
		})
		return nil, errStorage()
	}

	s.cache.Set(ctx, in.AppID, fingerprint, outcome)
	s.notifyBackend(app, in, fingerprint, outcome)

	logging.Event("verify_success", map[string]interface{}{
		"request_id": in.RequestID,
		"app_id":     in.AppID,
		"user_id":    in.UserID,
		"status":     outcome.Status,
		"active":     outcome.Active,
		"token_hash": fingerprintPrefix(fingerprint),
	})

	return s.respond(in, outcome), nil
}

// Entitlement returns the current entitlement row for (appID, userID) after
// the same registry and client-key authorization as Verify.
func (s *VerifyService) Entitlement(ctx context.Context, appID, userID, clientKey string) (*models.Entitlement, *VerifyError) {
	if s.cfg.GetApp(appID) == nil {
		return nil, errForbiddenApp("Unknown app_id")
	}
	if verr := s.checkClientKey(appID, clientKey); verr != nil {
		return nil, verr
	}

	entitlement, err := s.store.GetEntitlement(ctx, appID, userID)
	if err != nil {
		return nil, errStorage()
	}
	return entitlement, nil
}

func (s *VerifyService) checkClientKey(appID, presented string) *VerifyError {
	configured := s.cfg.GetClientKeys(appID)
	if len(configured) == 0 {
		return nil
	}
	if presented == "" {
		return errUnauthorized()
	}
	for _, value := range configured {
		if security.VerifyClientKey(presented, value) {
			return nil
		}
	}
	return errUnauthorized()
}

func (s *VerifyService) respond(in *VerifyInput, outcome *VerifyOutcome) *VerifyResponse {
	return &VerifyResponse{
		Active:         outcome.Active,
		Status:         outcome.Status,
		IsTrial:        outcome.IsTrial,
		AutoRenewing:   outcome.AutoRenewing,
		ExpiryTimeMS:   outcome.ExpiryTimeMS,
		AppID:          in.AppID,
		PackageName:    in.PackageName,
		SubscriptionID: in.SubscriptionID,
	}
}

func (s *VerifyService) notifyBackend(app *config.AppRegistryItem, in *VerifyInput, fingerprint string, outcome *VerifyOutcome) {
	if s.notifier == nil || app.WebhookURL == "" {
		return
	}
	payload := WebhookPayload{
		AppID:           in.AppID,
		UserID:          in.UserID,
		SubscriptionID:  in.SubscriptionID,
		Status:          outcome.Status,
		Active:          outcome.Active,
		ExpiryTimeMS:    outcome.ExpiryTimeMS,
		TokenHashPrefix: fingerprintPrefix(fingerprint),
	}
	go s.notifier.NotifyEntitlementUpdated(app.WebhookURL, app.WebhookSecret, payload)
}

func (s *VerifyService) logCacheHit(in *VerifyInput, fingerprint, status string) {
	logging.Event("verify_cache_hit", map[string]interface{}{
		"request_id": in.RequestID,
		"app_id":     in.AppID,
		"status":     status,
		"token_hash": fingerprintPrefix(fingerprint),
	})
}

func (s *VerifyService) cacheTTL() time.Duration {
	return time.Duration(s.cfg.CacheTTLMinutes) * time.Minute
}

// remainingCacheTTL is how much of the cache window a record created at
// createdAt still has left at now. Never negative.
func remainingCacheTTL(createdAt time.Time, ttl time.Duration, now time.Time) time.Duration {
	remaining := createdAt.Add(ttl).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// fingerprintPrefix truncates a fingerprint for diagnostics. Only this prefix
// ever reaches logs or webhooks.
func fingerprintPrefix(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
