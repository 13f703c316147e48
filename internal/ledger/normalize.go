package ledger

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/fetcher"
)

// Field is a canonical column the normalizer looks for.
type Field int

// Canonical fields in resolution order.
const (
	FieldIdentifier Field = iota
	FieldName
	FieldAmount
)

func (f Field) String() string {
	switch f {
	case FieldIdentifier:
		return "identifier"
	case FieldName:
		return "name"
	case FieldAmount:
		return "amount"
	}
	return "unknown"
}

// ColumnRule maps a header substring to a field. Rules are tried in order.
type ColumnRule struct {
	Pattern string
	Field   Field
}

// DefaultRules resolves the column names seen across the regulator's files.
var DefaultRules = []ColumnRule{
	{"CNPJ", FieldIdentifier},
	{"CPF_CNPJ", FieldIdentifier},
	{"REG_ANS", FieldIdentifier},
	{"REGISTRO_OPERADORA", FieldIdentifier},
	{"REGISTRO", FieldIdentifier},
	{"RAZAO_SOCIAL", FieldName},
	{"RAZAO", FieldName},
	{"NOME_FANTASIA", FieldName},
	{"NOME", FieldName},
	{"VALOR", FieldAmount},
	{"DESPESA", FieldAmount},
	{"VL_SALDO_FINAL", FieldAmount},
	{"VL_", FieldAmount},
}

// ColumnMap holds the resolved column index per field, -1 when absent.
type ColumnMap struct {
	Identifier int
	Name       int
	Amount     int
}

// NormalizeHeader upper-cases and trims a header cell.
func NormalizeHeader(h string) string {
	return strings.ToUpper(strings.TrimSpace(h))
}

// ResolveColumns picks one column per field. For each field the first rule
// whose pattern appears in a header wins; a column already claimed by an
// earlier field is skipped. A missing identifier or amount column is an
// ErrSchemaMissingField.
func ResolveColumns(header []string, rules []ColumnRule) (ColumnMap, error) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = NormalizeHeader(h)
	}

	claimed := make(map[int]bool)
	resolve := func(field Field) int {
		for _, rule := range rules {
			if rule.Field != field {
				continue
			}
			for i, h := range norm {
				if !claimed[i] && strings.Contains(h, rule.Pattern) {
					claimed[i] = true
					return i
				}
			}
		}
		return -1
	}

	cm := ColumnMap{
		Identifier: resolve(FieldIdentifier),
		Name:       resolve(FieldName),
		Amount:     resolve(FieldAmount),
	}
	if cm.Identifier < 0 {
		return cm, eris.Wrapf(ErrSchemaMissingField, "no %s column in %v", FieldIdentifier, norm)
	}
	if cm.Amount < 0 {
		return cm, eris.Wrapf(ErrSchemaMissingField, "no %s column in %v", FieldAmount, norm)
	}
	return cm, nil
}

// ParseAmount parses a monetary string. It accepts thousands separators,
// comma or dot decimals, a currency prefix and accounting-style parentheses.
// When both '.' and ',' appear the last one is the decimal separator; with
// only one kind, repeated occurrences are thousands separators. Exponent
// notation and magnitudes beyond float64 range are not amounts.
func ParseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" || IsPlaceholderName(s) || s == "-" {
		return decimal.NullDecimal{}
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("R$", "", "$", "", " ", "", "\u00a0", "").Replace(s)
	switch {
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		neg = !neg
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	if strings.ContainsAny(s, "eE") {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || math.IsInf(d.InexactFloat64(), 0) {
		return decimal.NullDecimal{}
	}
	if neg {
		d = d.Neg()
	}
	return decimal.NewNullDecimal(d)
}

// Normalizer maps raw rows of one quarter's files onto Records.
type Normalizer struct {
	Period Period
	Rules  []ColumnRule
}

// NewNormalizer returns a Normalizer for period using DefaultRules.
func NewNormalizer(p Period) *Normalizer {
	return &Normalizer{Period: p, Rules: DefaultRules}
}

// Normalize maps one row. ok is false when the row has no usable identifier or amount.
func (n *Normalizer) Normalize(cm ColumnMap, row fetcher.RawRow) (Record, bool) {
	id := CleanIdentifier(row.Get(cm.Identifier))
	amount := ParseAmount(row.Get(cm.Amount))
	if id == "" || !amount.Valid {
		return Record{}, false
	}
	return Record{
		Identifier: id,
		LegalName:  strings.TrimSpace(row.Get(cm.Name)),
		Quarter:    n.Period.Quarter,
		Year:       n.Period.Year,
		Amount:     amount,
	}, true
}

// FileResult summarizes one normalized source file.
type FileResult struct {
	Path     string
	Format   fetcher.Format
	Rows     int
	Dropped  int
	Skipped  int
	Accepted int
}

// ReadFile reads and normalizes one tabular file. Records come back with
// StatusUnset. A file without the required columns yields ErrSchemaMissingField
// and no records.
func (n *Normalizer) ReadFile(ctx context.Context, path string) ([]Record, *FileResult, error) {
	rules := n.Rules
	if rules == nil {
		rules = DefaultRules
	}

	var (
		records []Record
		cm      ColumnMap
		bound   bool
	)
	res := &FileResult{Path: path}
	tbl, err := fetcher.ReadTable(ctx, path, func(row fetcher.RawRow) error {
		if !bound {
			var err error
			if cm, err = ResolveColumns(row.Header, rules); err != nil {
				return err
			}
			bound = true
		}
		rec, ok := n.Normalize(cm, row)
		if !ok {
			res.Dropped++
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if tbl != nil {
		res.Format = tbl.Format
		res.Rows = tbl.Rows
		res.Skipped = tbl.Skipped
	}
	if err != nil {
		return nil, res, err
	}
	if !bound {
		if _, err := ResolveColumns(tbl.Header, rules); err != nil {
			return nil, res, err
		}
	}
	res.Accepted = len(records)

	zap.L().Debug("file normalized",
		zap.String("component", "ledger.normalize"),
		zap.String("file", filepath.Base(path)),
		zap.String("period", n.Period.String()),
		zap.Int("rows", res.Rows),
		zap.Int("accepted", res.Accepted),
		zap.Int("dropped", res.Dropped),
	)
	return records, res, nil
}
