package ledger

import "strings"

// Identifier lengths.
const (
	CNPJLength      = 14
	ShortFormLength = 6
)

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// CleanIdentifier strips every non-digit character.
func CleanIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CNPJCheckDigits computes the two modulo-11 check digits for a 12-digit base.
func CNPJCheckDigits(base string) (byte, byte) {
	d1 := cnpjDigit(base, cnpjWeights1)
	d2 := cnpjDigit(base+string(d1), cnpjWeights2)
	return d1, d2
}

func cnpjDigit(digits string, weights []int) byte {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

// allSameDigit reports whether every byte of s equals the first.
func allSameDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
