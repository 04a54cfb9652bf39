package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"billing-verify/internal/models"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Google Play subscription states as reported by subscriptionsv2.
const (
	subscriptionStateOnHold        = "SUBSCRIPTION_STATE_ON_HOLD"
	subscriptionStateInGracePeriod = "SUBSCRIPTION_STATE_IN_GRACE_PERIOD"
	subscriptionStateCanceled      = "SUBSCRIPTION_STATE_CANCELED"
	subscriptionStateExpired       = "SUBSCRIPTION_STATE_EXPIRED"
)

// VerifyOutcome is the canonical, provider-independent result of one
// verification.
type VerifyOutcome struct {
	Active       bool
	Status       string
	IsTrial      bool
	AutoRenewing bool
	ExpiryTimeMS int64

	// RawResponse holds the provider payload as JSON. Persisting it is a
	// policy decision made by the caller, not here.
	RawResponse string
}

// RemoteVerifier verifies one (package, subscription, token) triple against
// the billing provider.
type RemoteVerifier interface {
	Verify(ctx context.Context, packageName, subscriptionID, purchaseToken string, nowMS int64) (*VerifyOutcome, error)
}

// GooglePlayVerifier verifies purchases against the Android Publisher API.
type GooglePlayVerifier struct {
	svc     *androidpublisher.Service
	timeout time.Duration
	retries int
}

// NewGooglePlayVerifier builds an authenticated Android Publisher client from
// service account credentials. retries is the extra-attempt budget applied to
// retryable failures only.
func NewGooglePlayVerifier(ctx context.Context, serviceAccountJSON []byte, timeout time.Duration, retries int) (*GooglePlayVerifier, error) {
	svc, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON(serviceAccountJSON),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, err
	}
	return &GooglePlayVerifier{svc: svc, timeout: timeout, retries: retries}, nil
}

// Verify calls purchases.subscriptionsv2.get and normalizes the response.
// Provider 400/404/410 answers are normal terminal outcomes, not errors;
// transient failures consume the retry budget before surfacing as
// *VerifyError.
func (v *GooglePlayVerifier) Verify(ctx context.Context, packageName, subscriptionID, purchaseToken string, nowMS int64) (*VerifyOutcome, error) {
	var lastErr *VerifyError
	for attempt := 0; attempt <= v.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		resp, err := v.svc.Purchases.Subscriptionsv2.
			Get(packageName, purchaseToken).
			Context(callCtx).
			Do()
		cancel()

		if err == nil {
			return normalizeSubscription(resp, subscriptionID, nowMS), nil
		}

		// The caller's context is gone (client disconnected); retrying
		// would only burn attempts against a dead request.
		if errors.Is(err, context.Canceled) {
			return nil, errUpstreamUnavailable("Verification canceled")
		}

		outcome, verr := classifyProviderError(err)
		if outcome != nil {
			return outcome, nil
		}
		lastErr = verr
		if verr.Kind != FailureUpstreamUnavailable {
			return nil, verr
		}
	}
	return nil, lastErr
}

// classifyProviderError sorts a failed provider call into one of three
// buckets: a terminal not-found outcome, a retryable-unavailable error, or a
// fatal rejected error.
func classifyProviderError(err error) (*VerifyOutcome, *VerifyError) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 404, 410:
			// The token or subscription does not exist (or is malformed).
			// A normal outcome: nothing to retry, nothing to escalate.
			status := models.StatusUnknown
			if apiErr.Code == 404 || apiErr.Code == 410 {
				status = models.StatusExpired
			}
			raw, _ := json.Marshal(map[string]string{"error": apiErr.Error()})
			return &VerifyOutcome{
				Active:      false,
				Status:      status,
				RawResponse: string(raw),
			}, nil
		case 429, 500, 502, 503, 504:
			return nil, errUpstreamUnavailable("Google API unavailable")
		default:
			// 401/403 and friends mean our own credentials or request are
			// wrong; retrying cannot help.
			return nil, errUpstreamRejected("Google API rejected request")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return nil, errUpstreamUnavailable("Google API timeout")
	}

	// Remaining transport failures (connection refused, DNS) are transient
	// from the caller's perspective.
	return nil, errUpstreamUnavailable("Google API unreachable")
}

// normalizeSubscription derives the canonical outcome from a provider
// response. The decision table is evaluated in order; the first match wins.
func normalizeSubscription(resp *androidpublisher.SubscriptionPurchaseV2, subscriptionID string, nowMS int64) *VerifyOutcome {
	raw, _ := json.Marshal(resp)

	var matched *androidpublisher.SubscriptionPurchaseLineItem
	for _, item := range resp.LineItems {
		if item != nil && item.ProductId == subscriptionID {
			matched = item
			break
		}
	}
	if matched == nil {
		return &VerifyOutcome{
			Active:      false,
			Status:      models.StatusUnknown,
			RawResponse: string(raw),
		}
	}

	expiryMS := toUnixMS(matched.ExpiryTime)
	autoRenewing := matched.AutoRenewingPlan != nil && matched.AutoRenewingPlan.AutoRenewEnabled
	isTrial := detectTrial(matched.OfferDetails)
	state := resp.SubscriptionState
	active := nowMS < expiryMS

	var status string
	switch {
	case state == subscriptionStateOnHold || state == subscriptionStateInGracePeriod:
		status = models.StatusOnHold
	case state == subscriptionStateCanceled && active:
		status = models.StatusCanceledActive
	case state == subscriptionStateExpired || !active:
		status = models.StatusExpired
	case active && isTrial:
		status = models.StatusTrialActive
	case active:
		status = models.StatusPaidActive
	default:
		status = models.StatusUnknown
	}

	return &VerifyOutcome{
		Active:       active,
		Status:       status,
		IsTrial:      isTrial,
		AutoRenewing: autoRenewing,
		ExpiryTimeMS: expiryMS,
		RawResponse:  string(raw),
	}
}

// toUnixMS parses an RFC 3339 timestamp into milliseconds since epoch. An
// absent or unparsable timestamp yields 0, which reads as already expired.
func toUnixMS(rfc3339 string) int64 {
	if rfc3339 == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// detectTrial reports whether the matched line item was sold under a trial or
// introductory offer.
func detectTrial(offer *androidpublisher.OfferDetails) bool {
	if offer == nil {
		return false
	}
	offerID := strings.ToLower(offer.OfferId)
	if strings.Contains(offerID, "trial") || strings.Contains(offerID, "intro") {
		return true
	}
	for _, tag := range offer.OfferTags {
		tag = strings.ToLower(tag)
		if strings.Contains(tag, "trial") || strings.Contains(tag, "intro") {
			return true
		}
	}
	return false
}
