// Package auth provides modification-token issuance and verification helpers.
//
// A modification token is a short-lived HMAC-signed credential binding an
// order id to a requester (customer session or guest checkout). It is
// verified on every modification request and never stored.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	tokenVersion = "v1"
	minSecretLen = 32
)

// Requester scopes.
const (
	ScopeCustomer = "customer"
	ScopeGuest    = "guest"
)

var (
	ErrMissingSecret    = errors.New("token secret is required")
	ErrSecretTooShort   = errors.New("token secret is too short")
	ErrInvalidTTL       = errors.New("token ttl must be positive")
	ErrInvalidToken     = errors.New("invalid modification token")
	ErrInvalidSignature = errors.New("invalid modification token signature")
	ErrTokenExpired     = errors.New("modification token expired")
	ErrMissingOrderID   = errors.New("order id is required")
)

// Claims is the verified content of a modification token.
type Claims struct {
	OrderID     string `json:"oid"`
	RequesterID string `json:"rid"`
	Scope       string `json:"scope"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
	Nonce       string `json:"nonce"`
}

// TokenManager issues and verifies signed modification tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenManager creates a token manager with HMAC signing.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

// Issue creates a signed token binding the order to the requester.
func (m *TokenManager) Issue(orderID, requesterID, scope string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", ErrMissingOrderID
	}
	if scope != ScopeCustomer && scope != ScopeGuest {
		return "", fmt.Errorf("invalid scope %q", scope)
	}

	now := m.clock().UTC()
	nonce, err := randomNonce(16)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	claims := Claims{
		OrderID:     orderID,
		RequesterID: requesterID,
		Scope:       scope,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(m.ttl).Unix(),
		Nonce:       nonce,
	}

	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := signPayload(m.secret, encodedPayload)

	return strings.Join([]string{tokenVersion, encodedPayload, signature}, "."), nil
}

// Verify validates the token signature and expiry and returns its claims.
// Binding the claimed order id to the requested order is the caller's check.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenVersion {
		return nil, ErrInvalidToken
	}

	payloadEncoded := parts[1]
	signature := parts[2]

	expectedSig := signPayload(m.secret, payloadEncoded)
	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		return nil, ErrInvalidSignature
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadEncoded)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.OrderID == "" {
		return nil, ErrInvalidToken
	}

	now := m.clock().UTC().Unix()
	if claims.ExpiresAt < now {
		return nil, ErrTokenExpired
	}

	return &claims, nil
}

func signPayload(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomNonce(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
