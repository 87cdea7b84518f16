package config

import (
	"fmt"
	"sort"
	"time"
)

// ClaimMatch is a required-claim constraint: Any means "must be present,
// any value accepted"; otherwise the claim's stringified value must equal
// one element of Values.
type ClaimMatch struct {
	Any    bool
	Values []string
}

// Matches reports whether value satisfies the constraint.
func (m ClaimMatch) Matches(value string) bool {
	if m.Any {
		return true
	}
	for _, v := range m.Values {
		if v == value {
			return true
		}
	}
	return false
}

// RequiredClaim is one normalized entry from a resolved validator's
// required_claims list.
type RequiredClaim struct {
	Name  string
	Match ClaimMatch
}

// Authority is the resolved, defaulted form of an authority spec.
type Authority struct {
	Name               string
	JWKSURL            string
	ApprovedAlgorithms map[string]struct{} // empty set == accept all
	Leeway             time.Duration
	CheckExpiration    bool
	CheckNotBefore     bool
	UpdateInterval     time.Duration
}

// Validator is the resolved runtime form of a validator: template
// inheritance has already been flattened away.
type Validator struct {
	Name           string
	AuthorityName  string
	Header         string
	StripPrefix    string // empty means absent
	RequiredClaims []RequiredClaim
	MapClaims      map[string]string
}

// Config is the fully resolved configuration: every cross-reference
// between validators and authorities, and every header-name constraint,
// holds for every Config successfully returned by Resolve.
type Config struct {
	Authorities map[string]Authority
	Validators  map[string]Validator
}

const defaultUpdateInterval = 3600 * time.Second

// Resolve validates and flattens a raw File into a Config. Failure of any
// single validator entry fails the whole load: no partial Config is ever
// returned.
func Resolve(f *File) (*Config, error) {
	authorities := make(map[string]Authority, len(f.Authorities))
	for name, spec := range f.Authorities {
		a, err := resolveAuthority(name, spec)
		if err != nil {
			return nil, err
		}
		authorities[name] = a
	}

	validators := make(map[string]Validator, len(f.Validators))
	for name, partial := range f.Validators {
		v, err := resolveValidator(name, partial, f.ValidatorTemplates, authorities)
		if err != nil {
			return nil, err
		}
		validators[name] = v
	}

	return &Config{Authorities: authorities, Validators: validators}, nil
}

func resolveAuthority(name string, spec AuthoritySpec) (Authority, error) {
	if spec.JWKSURL == "" {
		return Authority{}, &MissingJWKSURLError{Authority: name}
	}

	approved := make(map[string]struct{}, len(spec.ApprovedAlgorithms))
	for _, alg := range spec.ApprovedAlgorithms {
		approved[alg] = struct{}{}
	}

	checkExp := true
	if spec.CheckExpiration != nil {
		checkExp = *spec.CheckExpiration
	}
	checkNbf := true
	if spec.CheckNotBefore != nil {
		checkNbf = *spec.CheckNotBefore
	}

	updateInterval := defaultUpdateInterval
	if spec.UpdateIntervalSec > 0 {
		updateInterval = time.Duration(spec.UpdateIntervalSec) * time.Second
	}

	return Authority{
		Name:               name,
		JWKSURL:            spec.JWKSURL,
		ApprovedAlgorithms: approved,
		Leeway:             time.Duration(spec.LeewaySeconds) * time.Second,
		CheckExpiration:    checkExp,
		CheckNotBefore:     checkNbf,
		UpdateInterval:     updateInterval,
	}, nil
}

// mergedValidator accumulates fields across a template chain before final
// validation and normalization.
type mergedValidator struct {
	authority      string
	header         string
	headerPrefix   string
	requiredClaims []any
	mapClaims      map[string]string
}

func resolveValidator(name string, partial PartialValidator, templates map[string]PartialValidator, authorities map[string]Authority) (Validator, error) {
	merged := mergedValidator{
		authority:      partial.Authority,
		header:         partial.Header,
		headerPrefix:   partial.HeaderPrefix,
		requiredClaims: append([]any(nil), partial.RequiredClaims...),
	}
	if len(partial.MapClaims) > 0 {
		merged.mapClaims = make(map[string]string, len(partial.MapClaims))
		for k, v := range partial.MapClaims {
			merged.mapClaims[k] = v
		}
	}

	visited := make(map[string]bool)
	templateName := partial.Template
	for templateName != "" {
		if visited[templateName] {
			return Validator{}, &CircularTemplateError{Validator: name, Template: templateName}
		}
		t, ok := templates[templateName]
		if !ok {
			return Validator{}, &MissingTemplateError{Validator: name, Template: templateName}
		}
		visited[templateName] = true

		if merged.authority == "" {
			merged.authority = t.Authority
		}
		if merged.header == "" {
			merged.header = t.Header
		}
		if merged.headerPrefix == "" {
			merged.headerPrefix = t.HeaderPrefix
		}
		merged.requiredClaims = append(merged.requiredClaims, t.RequiredClaims...)
		for _, k := range sortedKeys(t.MapClaims) {
			if _, exists := merged.mapClaims[k]; exists {
				continue
			}
			if merged.mapClaims == nil {
				merged.mapClaims = make(map[string]string)
			}
			merged.mapClaims[k] = t.MapClaims[k]
		}

		templateName = t.Template
	}

	if merged.header == "" {
		return Validator{}, &MissingHeaderError{Validator: name}
	}
	if merged.authority == "" {
		return Validator{}, &MissingAuthorityFieldError{Validator: name}
	}
	if _, ok := authorities[merged.authority]; !ok {
		return Validator{}, &MissingAuthorityError{Validator: name, Authority: merged.authority}
	}

	for claim, header := range merged.mapClaims {
		if !isValidHeaderName(header) {
			return Validator{}, &InvalidHeaderNameError{Validator: name, Claim: claim, Header: header}
		}
	}

	requiredClaims, err := normalizeRequiredClaims(name, merged.requiredClaims)
	if err != nil {
		return Validator{}, err
	}

	return Validator{
		Name:           name,
		AuthorityName:  merged.authority,
		Header:         merged.header,
		StripPrefix:    merged.headerPrefix,
		RequiredClaims: requiredClaims,
		MapClaims:      merged.mapClaims,
	}, nil
}

// sortedKeys returns m's keys in a stable order. Iteration order over the
// merge doesn't change which entries survive (child always wins, a
// template entry is adopted only if the key is absent so far); sorting
// only makes the merge walk a template's keys in a fixed order. The merged
// result is itself a map, so its order is not observable.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeRequiredClaims(validator string, raw []any) ([]RequiredClaim, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]RequiredClaim, 0, len(raw))
	for i, entry := range raw {
		rc, err := normalizeRequiredClaim(validator, i, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func normalizeRequiredClaim(validator string, index int, entry any) (RequiredClaim, error) {
	switch v := entry.(type) {
	case string:
		return RequiredClaim{Name: v, Match: ClaimMatch{Any: true}}, nil
	case map[string]any:
		name, _ := v["name"].(string)
		if name == "" {
			return RequiredClaim{}, &RequiredClaimError{Validator: validator, Index: index, Reason: "missing name"}
		}
		if valuesRaw, ok := v["values"]; ok {
			values, err := toStringSlice(valuesRaw)
			if err != nil {
				return RequiredClaim{}, &RequiredClaimError{Validator: validator, Index: index, Reason: err.Error()}
			}
			if len(values) == 0 {
				return RequiredClaim{Name: name, Match: ClaimMatch{Any: true}}, nil
			}
			return RequiredClaim{Name: name, Match: ClaimMatch{Values: values}}, nil
		}
		if valueRaw, ok := v["value"]; ok {
			if valueRaw == nil {
				return RequiredClaim{Name: name, Match: ClaimMatch{Any: true}}, nil
			}
			s, ok := valueRaw.(string)
			if !ok {
				return RequiredClaim{}, &RequiredClaimError{Validator: validator, Index: index, Reason: "value must be a string"}
			}
			return RequiredClaim{Name: name, Match: ClaimMatch{Values: []string{s}}}, nil
		}
		return RequiredClaim{Name: name, Match: ClaimMatch{Any: true}}, nil
	default:
		return RequiredClaim{}, &RequiredClaimError{Validator: validator, Index: index, Reason: fmt.Sprintf("unsupported entry type %T", entry)}
	}
}

func toStringSlice(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("values must be a list")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("values must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
