package validator

import (
	"fmt"
	"strconv"

	"github.com/tooboredtocode/jwt-forward-auth/internal/authority"
	"github.com/tooboredtocode/jwt-forward-auth/internal/config"
)

// EnforcementError is the body text returned to the caller: every
// enforcement failure is a 401 with a short diagnostic message, never a
// 500.
type EnforcementError struct {
	msg string
}

func (e *EnforcementError) Error() string { return e.msg }

func missingClaimErr(name string) error {
	return &EnforcementError{msg: fmt.Sprintf("Token is missing required %s claim", name)}
}

func mismatchErr(label string) error {
	return &EnforcementError{msg: fmt.Sprintf("Token doesn't match required %s", label)}
}

func invalidClaimErr() error {
	return &EnforcementError{msg: "Token contains invalid claim"}
}

// mismatchLabels maps the standard claim names to the phrase used in the
// "Token doesn't match required <label>" diagnostic.
var mismatchLabels = map[string]string{
	"aud": "audience",
	"iss": "issuer",
	"sub": "subject",
	"exp": "expiration",
	"nbf": "not-before",
}

// Enforce walks required_claims in configured order, then projects any
// remaining map_claims entries, returning the headers to emit on a 200
// response.
func Enforce(v config.Validator, claims authority.Claims) (map[string]string, error) {
	headers := make(map[string]string, len(v.MapClaims))
	emitted := make(map[string]bool, len(v.RequiredClaims))

	for _, rc := range v.RequiredClaims {
		value, err := extractAndMatch(rc, claims)
		if err != nil {
			return nil, err
		}
		if header, ok := v.MapClaims[rc.Name]; ok {
			headers[header] = HeaderValLossy(value)
			emitted[rc.Name] = true
		}
	}

	for claimName, header := range v.MapClaims {
		if emitted[claimName] {
			continue
		}
		value, ok := projectClaim(claimName, claims)
		if !ok {
			continue
		}
		headers[header] = HeaderValLossy(value)
	}

	return headers, nil
}

// extractAndMatch extracts one required claim's value and checks it
// against its constraint, returning the stringified value that matched (so
// callers can project it into a header) or an EnforcementError naming the
// mismatch.
func extractAndMatch(rc config.RequiredClaim, claims authority.Claims) (string, error) {
	switch rc.Name {
	case "aud":
		aud, ok := claims.Other.Get("aud").([]any)
		if !ok || len(aud) == 0 {
			if s, ok := claims.Other.Get("aud").(string); ok && s != "" {
				aud = []any{s}
			} else {
				return "", missingClaimErr("aud")
			}
		}
		for _, a := range aud {
			s, ok := a.(string)
			if !ok {
				continue
			}
			if rc.Match.Any || rc.Match.Matches(s) {
				return s, nil
			}
		}
		return "", mismatchErr(mismatchLabels["aud"])
	case "iss":
		return matchScalarClaim("iss", claims.Issuer, claims.Other.Has("iss"), rc)
	case "sub":
		return matchScalarClaim("sub", claims.Subject, claims.Other.Has("sub"), rc)
	case "exp", "nbf":
		return matchNumericClaim(rc, claims)
	default:
		return matchOtherClaim(rc, claims)
	}
}

func matchScalarClaim(name, value string, present bool, rc config.RequiredClaim) (string, error) {
	if !present {
		return "", missingClaimErr(name)
	}
	if !rc.Match.Matches(value) {
		return "", mismatchErr(mismatchLabels[name])
	}
	return value, nil
}

func matchNumericClaim(rc config.RequiredClaim, claims authority.Claims) (string, error) {
	v := claims.Other.Get(rc.Name)
	if v == nil {
		return "", missingClaimErr(rc.Name)
	}
	str, ok := stringifyClaimValue(v)
	if !ok {
		return "", invalidClaimErr()
	}
	// exp/nbf constraints are a literal decimal-string equality check
	// against the configured value, not an interval check — standard
	// temporal validity was already enforced by Authority.Validate.
	if !rc.Match.Matches(str) {
		return "", mismatchErr(mismatchLabels[rc.Name])
	}
	return str, nil
}

func matchOtherClaim(rc config.RequiredClaim, claims authority.Claims) (string, error) {
	if !claims.Other.Has(rc.Name) {
		return "", missingClaimErr(rc.Name)
	}
	str, ok := stringifyClaimValue(claims.Other.Get(rc.Name))
	if !ok {
		return "", invalidClaimErr()
	}
	if !rc.Match.Matches(str) {
		return "", mismatchErr(fmt.Sprintf("%s claim", rc.Name))
	}
	return str, nil
}

// projectClaim stringifies a map_claims entry not covered by required_claims.
// Arrays/objects and absent claims are skipped silently rather than treated
// as an error.
func projectClaim(name string, claims authority.Claims) (string, bool) {
	switch name {
	case "aud":
		if s, ok := claims.Other.Get("aud").(string); ok {
			return s, true
		}
		return "", false
	case "iss":
		if !claims.Other.Has("iss") {
			return "", false
		}
		return claims.Issuer, true
	case "sub":
		if !claims.Other.Has("sub") {
			return "", false
		}
		return claims.Subject, true
	default:
		if !claims.Other.Has(name) {
			return "", false
		}
		return stringifyClaimValue(claims.Other.Get(name))
	}
}

// stringifyClaimValue maps a claim value to its header-projected form:
// null -> "", bool -> "true"/"false", number -> decimal string, string ->
// itself. Arrays and objects return ok=false.
func stringifyClaimValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case bool:
		return strconv.FormatBool(val), true
	case string:
		return val, true
	case float64:
		return formatNumber(val), true
	default:
		return "", false
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
