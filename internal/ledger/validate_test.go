package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amt(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestCheckIdentifier(t *testing.T) {
	v := Validator{}
	tests := []struct {
		name string
		id   string
		want Status
	}{
		{name: "valid cnpj", id: "11444777000161", want: StatusOK},
		{name: "valid cnpj with punctuation", id: "11.444.777/0001-61", want: StatusOK},
		{name: "empty", id: "", want: StatusIdentifierEmpty},
		{name: "only punctuation", id: "./-", want: StatusIdentifierEmpty},
		{name: "short form registry code", id: "123456", want: StatusIdentifierShortForm},
		{name: "too short", id: "12345", want: StatusIdentifierInvalidLength},
		{name: "too long", id: "114447770001610", want: StatusIdentifierInvalidLength},
		{name: "repeated digits", id: "11111111111111", want: StatusIdentifierRepeatedDigits},
		{name: "zeros", id: "00000000000000", want: StatusIdentifierRepeatedDigits},
		{name: "wrong first check digit", id: "11444777000171", want: StatusIdentifierChecksum},
		{name: "wrong second check digit", id: "11444777000162", want: StatusIdentifierChecksum},
		{name: "base digit mutated", id: "11444777000261", want: StatusIdentifierChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.CheckIdentifier(tt.id))
		})
	}
}

func TestCheckIdentifier_EveryCheckDigitMutationFails(t *testing.T) {
	v := Validator{}
	const valid = "11444777000161"
	for pos := 12; pos < 14; pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if valid[pos] == d {
				continue
			}
			mutated := []byte(valid)
			mutated[pos] = d
			assert.Equal(t, StatusIdentifierChecksum, v.CheckIdentifier(string(mutated)), string(mutated))
		}
	}
}

func TestCNPJCheckDigits(t *testing.T) {
	d1, d2 := CNPJCheckDigits("114447770001")
	assert.Equal(t, byte('6'), d1)
	assert.Equal(t, byte('1'), d2)

	// Remainder below 2 yields a zero digit.
	d1, d2 = CNPJCheckDigits("112223330005")
	assert.Equal(t, byte('0'), d1)
	assert.Equal(t, byte('5'), d2)
	assert.Equal(t, StatusOK, Validator{}.CheckIdentifier("11222333000505"))
}

func TestCheckValue(t *testing.T) {
	v := Validator{}
	assert.Equal(t, StatusOK, v.CheckValue(amt("10.5")))
	assert.Equal(t, StatusValueZero, v.CheckValue(amt("0")))
	assert.Equal(t, StatusValueZero, v.CheckValue(amt("0.00")))
	assert.Equal(t, StatusValueNegative, v.CheckValue(amt("-0.01")))
	assert.Equal(t, StatusValueNull, v.CheckValue(decimal.NullDecimal{}))
}

func TestCheckName(t *testing.T) {
	v := Validator{}
	for _, name := range []string{"", "  ", "N/A", "n/a", "NaN", "None", "NULL"} {
		assert.Equal(t, StatusNameEmpty, v.CheckName(name), name)
	}
	assert.Equal(t, StatusOK, v.CheckName("Operadora Alfa S.A."))
	assert.Equal(t, StatusOK, v.CheckName("Nanci Saúde"))
}

func TestValidate_Precedence(t *testing.T) {
	v := Validator{}
	tests := []struct {
		name string
		rec  Record
		want Status
	}{
		{
			name: "all good",
			rec:  Record{Identifier: "11444777000161", LegalName: "Alfa", Amount: amt("1")},
			want: StatusOK,
		},
		{
			name: "short form passes through when everything else is fine",
			rec:  Record{Identifier: "123456", LegalName: "Alfa", Amount: amt("1")},
			want: StatusIdentifierShortForm,
		},
		{
			name: "identifier failure wins over value and name",
			rec:  Record{Identifier: "123", LegalName: "", Amount: amt("0")},
			want: StatusIdentifierInvalidLength,
		},
		{
			name: "value failure wins over name",
			rec:  Record{Identifier: "123456", LegalName: "N/A", Amount: amt("-3")},
			want: StatusValueNegative,
		},
		{
			name: "name failure last",
			rec:  Record{Identifier: "11444777000161", LegalName: "nan", Amount: amt("3")},
			want: StatusNameEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.rec))
		})
	}
}

func TestValidateAll(t *testing.T) {
	recs := []Record{
		{Identifier: "11444777000161", LegalName: "Alfa", Amount: amt("1")},
		{Identifier: "11444777000161", LegalName: "Alfa", Amount: amt("0")},
	}
	Validator{}.ValidateAll(recs)
	assert.Equal(t, StatusOK, recs[0].Status)
	assert.Equal(t, StatusValueZero, recs[1].Status)
}
