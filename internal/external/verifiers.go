package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Clerk Webhook Verification (svix-style HMAC-SHA256)
// ---------------------------------------------------------------------------

// Svix signing header names, lowercased as Clerk transmits them.
const (
	HeaderSvixID        = "svix-id"
	HeaderSvixTimestamp = "svix-timestamp"
	HeaderSvixSignature = "svix-signature"
)

// svixTimestampTolerance bounds the accepted clock skew between the sender's
// svix-timestamp and local time. Payloads outside the window are rejected to
// limit replay.
const svixTimestampTolerance = 5 * time.Minute

// Sentinel errors distinguishing the two verification failure modes. The
// webhook handler maps these to webhook_missing_headers and
// webhook_invalid_signature respectively.
var (
	ErrMissingWebhookHeaders   = errors.New("missing svix signing headers")
	ErrInvalidWebhookSignature = errors.New("webhook signature verification failed")
)

// SvixVerifier implements WebhookVerifier using the svix signing scheme Clerk
// uses for its webhooks. The verification process:
//  1. Read svix-id, svix-timestamp, and svix-signature headers
//  2. Check the timestamp is within tolerance of local time
//  3. Decode the base64 signing key (secret after the "whsec_" prefix)
//  4. Compute HMAC-SHA256 over "{id}.{timestamp}.{payload}"
//  5. Compare against each "v1,<base64sig>" entry in the signature header
type SvixVerifier struct {
	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewSvixVerifier creates a SvixVerifier using the system clock.
func NewSvixVerifier() *SvixVerifier {
	return &SvixVerifier{now: time.Now}
}

// Verify validates the payload against the svix signing headers and secret.
func (v *SvixVerifier) Verify(payload []byte, headers http.Header, secret string) error {
	msgID := headers.Get(HeaderSvixID)
	timestamp := headers.Get(HeaderSvixTimestamp)
	signatures := headers.Get(HeaderSvixSignature)

	if msgID == "" || timestamp == "" || signatures == "" {
		return ErrMissingWebhookHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed svix-timestamp", ErrInvalidWebhookSignature)
	}
	sent := time.Unix(ts, 0)
	nowFn := v.now
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew := nowFn().Sub(sent); skew > svixTimestampTolerance || skew < -svixTimestampTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidWebhookSignature)
	}

	key, err := decodeSigningSecret(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	// The signature header may carry multiple space-separated versioned
	// signatures (key rotation). Any matching v1 entry passes.
	for _, entry := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}

	return ErrInvalidWebhookSignature
}

// decodeSigningSecret strips the conventional "whsec_" prefix and base64-decodes
// the remainder into the raw HMAC key.
func decodeSigningSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("signing secret is empty")
	}
	encoded := strings.TrimPrefix(secret, "whsec_")
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing secret: %w", err)
	}
	return key, nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ WebhookVerifier = (*SvixVerifier)(nil)
