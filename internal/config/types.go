// Package config loads the forward-auth configuration document, resolves
// validator template inheritance into concrete validators, and publishes a
// runtime Config free of unresolved references.
package config

// File is the raw, as-parsed shape of the configuration document. Field
// tags are koanf tags, matched 1:1 to the YAML schema.
type File struct {
	Authorities        map[string]AuthoritySpec    `koanf:"authorities"`
	ValidatorTemplates map[string]PartialValidator `koanf:"validator_templates"`
	Validators         map[string]PartialValidator `koanf:"validators"`
}

// AuthoritySpec is the raw authority configuration. Defaults are applied
// in resolve.go, not here, so the zero value
// can be told apart from an explicit setting where it matters
// (CheckExpiration / CheckNotBefore default to true, not their Go zero
// value, so they are pointers).
type AuthoritySpec struct {
	JWKSURL            string   `koanf:"jwks_url"`
	ApprovedAlgorithms []string `koanf:"approved_algorithms"`
	LeewaySeconds      int      `koanf:"leeway_seconds"`
	CheckExpiration    *bool    `koanf:"check_expiration"`
	CheckNotBefore     *bool    `koanf:"check_not_before"`
	UpdateIntervalSec  int      `koanf:"update_interval"`
}

// PartialValidator is one entry under validator_templates or validators
// before template inheritance is resolved.
//
// Template, Authority, Header and HeaderPrefix use the empty string to mean
// "not set on this partial" — none of them are meaningfully set to "" by a
// well-formed document, so the zero value doubles as the absence marker
// used by the inheritance merge in resolve.go.
type PartialValidator struct {
	Template       string            `koanf:"template"`
	Authority      string            `koanf:"authority"`
	Header         string            `koanf:"header"`
	HeaderPrefix   string            `koanf:"header_prefix"`
	RequiredClaims []any             `koanf:"required_claims"`
	MapClaims      map[string]string `koanf:"map_claims"`
}
