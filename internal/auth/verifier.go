// Package auth verifies bearer tokens and extracts the tenant and role.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Verifier validates bearer tokens. Modes: dev ("tenant:role", no
// verification) and hmac (HS256 JWT signed with a shared secret).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	TenantClaim string
	RoleClaim   string
	// Leeway tolerated on exp and nbf.
	Leeway time.Duration
	now    func() time.Time
}

type Principal struct {
	Tenant  string
	Role    string
	Subject string
}

// NewVerifierFromEnv reads AUTH_MODE, AUTH_HMAC_SECRET, AUTH_TENANT_CLAIM
// and AUTH_ROLE_CLAIM.
func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(os.Getenv("AUTH_HMAC_SECRET")),
		TenantClaim: envOr("AUTH_TENANT_CLAIM", "tenant"),
		RoleClaim:   envOr("AUTH_ROLE_CLAIM", "role"),
		Leeway:      30 * time.Second,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "dev":
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" || role == "" {
			return Principal{}, fmt.Errorf("%w: expected tenant:role", ErrInvalidToken)
		}
		return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
	case "hmac":
		claims, err := v.verifyHS256(token)
		if err != nil {
			return Principal{}, err
		}
		return v.principal(claims)
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
}

func (v *Verifier) verifyHS256(token string) (map[string]any, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrInvalidToken)
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil {
		return nil, err
	}
	if hdr.Alg != "HS256" {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrInvalidToken, hdr.Alg)
	}
	if len(v.HMACSecret) == 0 {
		return nil, errors.New("AUTH_HMAC_SECRET not set")
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrInvalidToken)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	var claims map[string]any
	if err := decodeSegment(segs[1], &claims); err != nil {
		return nil, err
	}
	now := time.Now()
	if v.now != nil {
		now = v.now()
	}
	if exp, ok := claims["exp"].(float64); ok && now.After(time.Unix(int64(exp), 0).Add(v.Leeway)) {
		return nil, ErrExpired
	}
	if nbf, ok := claims["nbf"].(float64); ok && now.Add(v.Leeway).Before(time.Unix(int64(nbf), 0)) {
		return nil, fmt.Errorf("%w: not valid yet", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) principal(claims map[string]any) (Principal, error) {
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	sub, _ := claims["sub"].(string)
	if tenant == "" {
		return Principal{}, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, v.TenantClaim)
	}
	if role == "" {
		role = "viewer"
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role), Subject: sub}, nil
}

func decodeSegment(seg string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return fmt.Errorf("%w: segment encoding", ErrInvalidToken)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
