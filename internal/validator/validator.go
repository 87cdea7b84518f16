// Package validator implements the per-request authorization pipeline
// bound to one resolved validator: header extraction, required-claim
// enforcement, and claim-to-header projection.
package validator

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/tooboredtocode/jwt-forward-auth/internal/authority"
	"github.com/tooboredtocode/jwt-forward-auth/internal/config"
)

// ErrHeaderNotUTF8 is returned when the extracted token bytes aren't valid
// UTF-8.
var ErrHeaderNotUTF8 = errors.New("token is not valid UTF-8")

// Validator is the runtime form of a resolved validator, bound to the
// Authority that verifies its tokens.
type Validator struct {
	Config    config.Validator
	Authority *authority.Authority
}

// New binds a resolved validator configuration to its authority.
func New(cfg config.Validator, auth *authority.Authority) *Validator {
	return &Validator{Config: cfg, Authority: auth}
}

// ExtractToken applies prefix stripping and UTF-8 validation to the raw
// header value. headerPresent reports whether the header was present at
// all on the request.
func (v *Validator) ExtractToken(headerValue string, headerPresent bool) (string, error) {
	if !headerPresent {
		return "", nil
	}
	token := headerValue
	if v.Config.StripPrefix != "" && strings.HasPrefix(token, v.Config.StripPrefix) {
		token = strings.TrimPrefix(token, v.Config.StripPrefix)
	}
	if !utf8.ValidString(token) {
		return "", ErrHeaderNotUTF8
	}
	return token, nil
}
