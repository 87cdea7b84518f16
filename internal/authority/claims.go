package authority

import (
	"github.com/tooboredtocode/jwt-forward-auth/internal/claims"
)

// Claims is a validated token's payload: the registered claims used by
// required-claim enforcement are pulled out as named fields, everything
// else (including custom/private claims) stays in Other for projection
// into headers via map_claims.
type Claims struct {
	Subject string
	Issuer  string

	HasExpiration bool
	HasNotBefore  bool

	Other claims.Claims
}

const (
	claimSub = "sub"
	claimIss = "iss"
	claimExp = "exp"
	claimNbf = "nbf"
)

func claimsFromPayload(payload map[string]any) Claims {
	c := Claims{Other: make(claims.Claims, len(payload))}
	for k, v := range payload {
		c.Other[k] = v
	}
	c.Subject = c.Other.GetString(claimSub)
	c.Issuer = c.Other.GetString(claimIss)
	_, c.HasExpiration = payload[claimExp]
	_, c.HasNotBefore = payload[claimNbf]
	return c
}
