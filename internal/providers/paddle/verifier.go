package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
)

const SignatureHeader = "Paddle-Signature"

// Verifier checks Paddle webhook signatures of the form "ts=<unix>;h1=<hex>".
// The signed payload is "<ts>:<raw body>" with HMAC-SHA256.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier. A zero tolerance disables the timestamp
// freshness check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(strings.TrimSpace(secret)),
		tolerance: tolerance,
		now:       time.Now,
	}
}

func (v *Verifier) Verify(_ context.Context, payload []byte, headers http.Header) error {
	if v == nil || len(v.secret) == 0 {
		return paymentdomain.ErrInvalidSignature
	}
	header := strings.TrimSpace(headers.Get(SignatureHeader))
	if header == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignature(header)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if v.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	expected := Sign(v.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Sign returns the hex HMAC Paddle sends in h1 for the given timestamp.
func Sign(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte(":"))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds a header value for outgoing test deliveries.
func SignatureHeaderValue(secret string, ts time.Time, payload []byte) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return "ts=" + timestamp + ";h1=" + Sign([]byte(secret), timestamp, payload)
}

func parseSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			timestamp = strings.TrimSpace(value)
		case "h1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
