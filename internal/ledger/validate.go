package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

var placeholderNames = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"nan":  {},
	"none": {},
	"null": {},
}

// IsPlaceholderName reports whether name is blank or a known null marker.
func IsPlaceholderName(name string) bool {
	_, ok := placeholderNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Validator classifies records. The zero value is ready to use.
type Validator struct{}

// CheckIdentifier classifies an identifier. Non-digits are ignored.
func (Validator) CheckIdentifier(id string) Status {
	d := CleanIdentifier(id)
	switch {
	case d == "":
		return StatusIdentifierEmpty
	case len(d) == ShortFormLength:
		return StatusIdentifierShortForm
	case len(d) != CNPJLength:
		return StatusIdentifierInvalidLength
	case allSameDigit(d):
		return StatusIdentifierRepeatedDigits
	}
	d1, d2 := CNPJCheckDigits(d[:12])
	if d[12] != d1 || d[13] != d2 {
		return StatusIdentifierChecksum
	}
	return StatusOK
}

// CheckValue returns StatusOK for a positive amount.
func (Validator) CheckValue(v decimal.NullDecimal) Status {
	switch {
	case !v.Valid:
		return StatusValueNull
	case v.Decimal.IsZero():
		return StatusValueZero
	case v.Decimal.IsNegative():
		return StatusValueNegative
	}
	return StatusOK
}

// CheckName returns StatusOK for a usable legal name.
func (Validator) CheckName(name string) Status {
	if IsPlaceholderName(name) {
		return StatusNameEmpty
	}
	return StatusOK
}

// Validate returns the status to store for r: the first failing check in
// identifier, value, name order, else the identifier outcome.
func (v Validator) Validate(r Record) Status {
	id := v.CheckIdentifier(r.Identifier)
	if !id.Valid() {
		return id
	}
	if st := v.CheckValue(r.Amount); st != StatusOK {
		return st
	}
	if st := v.CheckName(r.LegalName); st != StatusOK {
		return st
	}
	return id
}

// Accepts reports whether r passes every check.
func (v Validator) Accepts(r Record) bool {
	return v.Validate(r).Valid()
}

// ValidateAll stamps each record with its status.
func (v Validator) ValidateAll(records []Record) {
	for i := range records {
		records[i].Status = v.Validate(records[i])
	}
}
