// Package ledger turns heterogeneous expense rows into validated records and
// maintains the consolidated table: column resolution, identifier and value
// checks, append-only writes and the cross-file duplicate-name pass.
package ledger

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Status is the validation outcome stored with every record.
type Status string

// Validation statuses.
const (
	StatusUnset                    Status = ""
	StatusOK                       Status = "OK"
	StatusIdentifierEmpty          Status = "IDENTIFIER_EMPTY"
	StatusIdentifierInvalidLength  Status = "IDENTIFIER_INVALID_LENGTH"
	StatusIdentifierRepeatedDigits Status = "IDENTIFIER_REPEATED_DIGITS"
	StatusIdentifierChecksum       Status = "IDENTIFIER_CHECKSUM_INVALID"
	StatusIdentifierShortForm      Status = "IDENTIFIER_SHORT_FORM_VALID"
	StatusValueZero                Status = "VALUE_ZERO"
	StatusValueNegative            Status = "VALUE_NEGATIVE"
	StatusValueNull                Status = "VALUE_NULL"
	StatusNameEmpty                Status = "NAME_EMPTY"
	StatusMultipleNames            Status = "IDENTIFIER_MULTIPLE_NAMES"
)

// Statuses lists every stored status in report order.
var Statuses = []Status{
	StatusOK,
	StatusIdentifierShortForm,
	StatusIdentifierEmpty,
	StatusIdentifierInvalidLength,
	StatusIdentifierRepeatedDigits,
	StatusIdentifierChecksum,
	StatusValueZero,
	StatusValueNegative,
	StatusValueNull,
	StatusNameEmpty,
	StatusMultipleNames,
}

// ParseStatus converts a stored status string, rejecting anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return StatusUnset, eris.Errorf("ledger: unknown validation status %q", s)
}

// Valid reports whether a record with this status counts as clean.
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusIdentifierShortForm
}

// Period is one reporting quarter.
type Period struct {
	Year    int
	Quarter int
}

var (
	periodYQ = regexp.MustCompile(`^(\d{4})[-_ ]?[Qq]([1-4])$`)
	periodTY = regexp.MustCompile(`^([1-4])[Tt](\d{4})$`)
)

// ParsePeriod accepts "2024Q1", "2024-Q1" and the regulator's "1T2024" form.
func ParsePeriod(s string) (Period, error) {
	if m := periodYQ.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return Period{Year: y, Quarter: q}, nil
	}
	if m := periodTY.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		return Period{Year: y, Quarter: q}, nil
	}
	return Period{}, eris.Errorf("ledger: invalid period %q (want YYYYQn)", s)
}

func (p Period) String() string {
	return fmt.Sprintf("%dQ%d", p.Year, p.Quarter)
}

// Prev returns the quarter before p.
func (p Period) Prev() Period {
	if p.Quarter <= 1 {
		return Period{Year: p.Year - 1, Quarter: 4}
	}
	return Period{Year: p.Year, Quarter: p.Quarter - 1}
}

// Before reports whether p is earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Quarter < o.Quarter
}

// Record is one normalized expense line.
type Record struct {
	Identifier string
	LegalName  string
	Quarter    int
	Year       int
	Amount     decimal.NullDecimal
	Status     Status
}

// Columns is the consolidated table header.
var Columns = []string{"identifier", "legal_name", "quarter", "year", "amount", "validation_status"}

// Column positions in Columns.
const (
	ColIdentifier = iota
	ColLegalName
	ColQuarter
	ColYear
	ColAmount
	ColStatus
)

// Strings renders r as a consolidated table row.
func (r Record) Strings() []string {
	amount := ""
	if r.Amount.Valid {
		amount = r.Amount.Decimal.String()
	}
	return []string{
		r.Identifier,
		r.LegalName,
		strconv.Itoa(r.Quarter),
		strconv.Itoa(r.Year),
		amount,
		string(r.Status),
	}
}

// ParseRecord reads a consolidated table row back into a Record.
func ParseRecord(row []string) (Record, error) {
	if len(row) < len(Columns) {
		return Record{}, eris.Errorf("ledger: row has %d columns, want %d", len(row), len(Columns))
	}
	q, err := strconv.Atoi(row[ColQuarter])
	if err != nil {
		return Record{}, eris.Wrapf(err, "ledger: quarter %q", row[ColQuarter])
	}
	y, err := strconv.Atoi(row[ColYear])
	if err != nil {
		return Record{}, eris.Wrapf(err, "ledger: year %q", row[ColYear])
	}
	var amount decimal.NullDecimal
	if row[ColAmount] != "" {
		d, err := decimal.NewFromString(row[ColAmount])
		if err != nil {
			return Record{}, eris.Wrapf(err, "ledger: amount %q", row[ColAmount])
		}
		amount = decimal.NewNullDecimal(d)
	}
	st, err := ParseStatus(row[ColStatus])
	if err != nil {
		return Record{}, err
	}
	return Record{
		Identifier: row[ColIdentifier],
		LegalName:  row[ColLegalName],
		Quarter:    q,
		Year:       y,
		Amount:     amount,
		Status:     st,
	}, nil
}
