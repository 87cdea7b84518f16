// Package authority verifies JWTs against one configured trust anchor: a
// JWKS URI, an approved-algorithm allowlist, and exp/nbf enforcement
// policy.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
	"github.com/tooboredtocode/jwt-forward-auth/internal/config"
	"github.com/tooboredtocode/jwt-forward-auth/internal/jwks"
)

var (
	// ErrMalformedToken means the token isn't even well-formed JWS.
	ErrMalformedToken = errors.New("malformed token")
	// ErrUnapprovedAlgorithm means the token's alg header isn't in the
	// authority's approved_algorithms allowlist.
	ErrUnapprovedAlgorithm = errors.New("unapproved signing algorithm")
	// ErrKeyNotFound means no key in the JWKS matches the token's kid/alg,
	// even after an on-demand refresh.
	ErrKeyNotFound = errors.New("no matching key in jwks")
	// ErrBadSignature means signature verification failed against the
	// selected key.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrExpired means the token's exp claim is in the past (beyond leeway).
	ErrExpired = errors.New("token expired")
	// ErrNotYetValid means the token's nbf claim is in the future (beyond
	// leeway).
	ErrNotYetValid = errors.New("token not yet valid")
)

// lazyRefreshMinAge bounds how often an unrecognized kid can trigger an
// on-demand JWKS refresh, independent of the authority's update_interval.
const lazyRefreshMinAge = 10 * time.Second

// Authority verifies tokens against one resolved authority configuration.
type Authority struct {
	cfg   config.Authority
	entry *jwks.Entry
	clk   clock.Clock
}

// New binds a resolved authority configuration to the JWKS entry that
// serves its keys.
func New(cfg config.Authority, entry *jwks.Entry, clk clock.Clock) *Authority {
	return &Authority{cfg: cfg, entry: entry, clk: clk}
}

// RefreshIfDue triggers a JWKS refresh if this authority's key set hasn't
// been refreshed within its configured update_interval. Intended to be
// called in a detached goroutine; errors are swallowed by
// design — a failed background refresh leaves the previous keys in place
// and the next request (or the next due check) tries again.
func (a *Authority) RefreshIfDue(ctx context.Context) {
	last := a.entry.LastRefresh()
	if !last.IsZero() && a.clk.Now().Sub(last) <= a.cfg.UpdateInterval {
		return
	}
	_ = a.entry.Refresh(ctx)
}

// Validate verifies token's signature against this authority's JWKS and
// enforces its exp/nbf policy. It does not check aud/iss/sub — those are
// enforced later as required claims, since they're validator policy, not
// authority policy.
func (a *Authority) Validate(ctx context.Context, token string) (Claims, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return Claims{}, fmt.Errorf("%w: no signatures", ErrMalformedToken)
	}
	headers := sigs[0].ProtectedHeaders()
	alg := headers.Algorithm()
	kid := headers.KeyID()

	if len(a.cfg.ApprovedAlgorithms) > 0 {
		if _, ok := a.cfg.ApprovedAlgorithms[alg.String()]; !ok {
			return Claims{}, fmt.Errorf("%w: %s", ErrUnapprovedAlgorithm, alg)
		}
	}

	key, err := a.selectKey(ctx, kid, alg)
	if err != nil {
		return Claims{}, err
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(alg, key))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, fmt.Errorf("%w: payload is not a JSON object: %v", ErrMalformedToken, err)
	}

	claims := claimsFromPayload(raw)

	if err := a.checkTimeClaims(raw, claims); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

func (a *Authority) selectKey(ctx context.Context, kid string, alg jwa.SignatureAlgorithm) (jwk.Key, error) {
	set, ok := a.entry.Set()
	if ok {
		if key, found := lookupKey(set, kid, alg); found {
			return key, nil
		}
	}

	// Key not found (or no set fetched yet): refresh on demand, bounded so
	// a flood of unrecognized kids can't turn into a JWKS-fetch flood.
	if err := a.entry.RefreshIfStale(ctx, lazyRefreshMinAge); err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrKeyNotFound, err)
	}
	set, ok = a.entry.Set()
	if !ok {
		return nil, ErrKeyNotFound
	}
	key, found := lookupKey(set, kid, alg)
	if !found {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// lookupKey selects a key by (kid, alg) when a kid is present, and by alg
// alone when it is not. A present kid that matches no key yields no key;
// there is no fallback to an alg-only match.
func lookupKey(set jwk.Set, kid string, alg jwa.SignatureAlgorithm) (jwk.Key, bool) {
	if kid != "" {
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, false
		}
		if key.Algorithm() == jwa.NoSignature || key.Algorithm() == alg {
			return key, true
		}
		return nil, false
	}
	for i := 0; i < set.Len(); i++ {
		key, _ := set.Key(i)
		if key.Algorithm() == alg {
			return key, true
		}
	}
	return nil, false
}

func (a *Authority) checkTimeClaims(raw map[string]any, c Claims) error {
	now := a.clk.Now()

	if a.cfg.CheckExpiration && c.HasExpiration {
		exp, err := numericDateClaim(raw, claimExp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if now.After(exp.Add(a.cfg.Leeway)) {
			return ErrExpired
		}
	}

	if a.cfg.CheckNotBefore && c.HasNotBefore {
		nbf, err := numericDateClaim(raw, claimNbf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if now.Before(nbf.Add(-a.cfg.Leeway)) {
			return ErrNotYetValid
		}
	}

	return nil
}

// numericDateClaim reads a JWT NumericDate claim (RFC 7519 §2): seconds
// since the Unix epoch, as a JSON number.
func numericDateClaim(raw map[string]any, name string) (time.Time, error) {
	v, ok := raw[name]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s claim", name)
	}
	f, ok := v.(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("%s claim is not a number", name)
	}
	return time.UnixMicro(int64(f * 1e6)), nil
}
