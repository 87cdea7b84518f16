package config

import "fmt"

// MissingTemplateError is returned when a validator references a template
// name that does not appear in validator_templates.
type MissingTemplateError struct {
	Validator string
	Template  string
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("validator %q references unknown template %q", e.Validator, e.Template)
}

// CircularTemplateError is returned when the template chain for a
// validator revisits a template already walked.
type CircularTemplateError struct {
	Validator string
	Template  string
}

func (e *CircularTemplateError) Error() string {
	return fmt.Sprintf("validator %q has a circular template reference at %q", e.Validator, e.Template)
}

// MissingHeaderError is returned when a resolved validator has no header
// after merging its template chain.
type MissingHeaderError struct {
	Validator string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("validator %q has no header configured", e.Validator)
}

// MissingAuthorityFieldError is returned when a resolved validator has no
// authority name at all after merging its template chain.
type MissingAuthorityFieldError struct {
	Validator string
}

func (e *MissingAuthorityFieldError) Error() string {
	return fmt.Sprintf("validator %q has no authority configured", e.Validator)
}

// MissingAuthorityError is returned when a resolved validator's authority
// name does not exist in the top-level authorities map.
type MissingAuthorityError struct {
	Validator string
	Authority string
}

func (e *MissingAuthorityError) Error() string {
	return fmt.Sprintf("validator %q references unknown authority %q", e.Validator, e.Authority)
}

// InvalidHeaderNameError is returned when a map_claims value does not
// parse as a valid HTTP header name.
type InvalidHeaderNameError struct {
	Validator string
	Claim     string
	Header    string
}

func (e *InvalidHeaderNameError) Error() string {
	return fmt.Sprintf("validator %q maps claim %q to invalid header name %q", e.Validator, e.Claim, e.Header)
}

// MissingJWKSURLError is returned when an authority spec has no jwks_url.
type MissingJWKSURLError struct {
	Authority string
}

func (e *MissingJWKSURLError) Error() string {
	return fmt.Sprintf("authority %q has no jwks_url configured", e.Authority)
}

// RequiredClaimError is returned when a required_claims entry is malformed
// (neither a string nor an object with name/value/values).
type RequiredClaimError struct {
	Validator string
	Index     int
	Reason    string
}

func (e *RequiredClaimError) Error() string {
	return fmt.Sprintf("validator %q required_claims[%d]: %s", e.Validator, e.Index, e.Reason)
}
