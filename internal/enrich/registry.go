// Package enrich joins the consolidated table with the operator registry.
package enrich

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/fetcher"
	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// Placeholders for registry attributes that are missing or unmatched.
const (
	ModalityNotInformed = "NOT_INFORMED"
	RegionUnknown       = "XX"
	RegistryCodeMissing = "NOT_FOUND"
)

// RegistryRecord is one operator from the registry file.
type RegistryRecord struct {
	Identifier   string
	RegistryCode string
	LegalName    string
	Modality     string
	RegionCode   string
}

type registryField int

const (
	regIdentifier registryField = iota
	regCode
	regName
	regModality
	regRegion
)

type registryRule struct {
	pattern string
	field   registryField
	exact   bool
}

// registryRules are tried in order; region codes match whole headers only so
// columns such as "SIGLA_MUNICIPIO" are not mistaken for the state.
var registryRules = []registryRule{
	{pattern: "CNPJ", field: regIdentifier},
	{pattern: "REGISTRO_OPERADORA", field: regCode},
	{pattern: "REGISTRO_ANS", field: regCode},
	{pattern: "REG_ANS", field: regCode},
	{pattern: "RAZAO_SOCIAL", field: regName},
	{pattern: "RAZAO", field: regName},
	{pattern: "NOME", field: regName},
	{pattern: "MODALIDADE", field: regModality},
	{pattern: "UF", field: regRegion, exact: true},
	{pattern: "SIGLA_UF", field: regRegion, exact: true},
	{pattern: "SIGLA", field: regRegion, exact: true},
}

func resolveRegistryColumns(header []string) (map[registryField]int, error) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = ledger.NormalizeHeader(h)
	}

	cols := make(map[registryField]int)
	claimed := make(map[int]bool)
	for _, rule := range registryRules {
		if _, done := cols[rule.field]; done {
			continue
		}
		for i, h := range norm {
			if claimed[i] {
				continue
			}
			if (rule.exact && h == rule.pattern) || (!rule.exact && strings.Contains(h, rule.pattern)) {
				cols[rule.field] = i
				claimed[i] = true
				break
			}
		}
	}

	_, hasID := cols[regIdentifier]
	_, hasCode := cols[regCode]
	if !hasID && !hasCode {
		return nil, eris.Wrapf(ledger.ErrSchemaMissingField, "registry: no identifier or registry code column in %v", norm)
	}
	return cols, nil
}

// Registry indexes operators by CNPJ and by registry code.
type Registry struct {
	byKey map[string]*RegistryRecord
	count int
}

// NewRegistry builds a Registry from records. The first record seen for a key wins.
func NewRegistry(records []RegistryRecord) *Registry {
	r := &Registry{byKey: make(map[string]*RegistryRecord)}
	for i := range records {
		r.add(records[i])
	}
	return r
}

func (r *Registry) add(rec RegistryRecord) {
	p := &rec
	added := false
	for _, key := range []string{rec.Identifier, rec.RegistryCode} {
		if key == "" {
			continue
		}
		if _, ok := r.byKey[key]; ok {
			continue
		}
		r.byKey[key] = p
		added = true
	}
	if added {
		r.count++
	}
}

// Lookup finds the operator for a 14-digit CNPJ or a 6-digit registry code.
func (r *Registry) Lookup(id string) (*RegistryRecord, bool) {
	rec, ok := r.byKey[id]
	return rec, ok
}

// Len is the number of distinct operators indexed.
func (r *Registry) Len() int { return r.count }

// LoadRegistry reads the registry file at path with the tabular reader.
func LoadRegistry(ctx context.Context, path string) (*Registry, error) {
	reg := &Registry{byKey: make(map[string]*RegistryRecord)}

	var cols map[registryField]int
	get := func(row fetcher.RawRow, f registryField) string {
		i, ok := cols[f]
		if !ok {
			return ""
		}
		return strings.TrimSpace(row.Get(i))
	}

	tbl, err := fetcher.ReadTable(ctx, path, func(row fetcher.RawRow) error {
		if cols == nil {
			var err error
			if cols, err = resolveRegistryColumns(row.Header); err != nil {
				return err
			}
		}
		reg.add(RegistryRecord{
			Identifier:   ledger.CleanIdentifier(get(row, regIdentifier)),
			RegistryCode: ledger.CleanIdentifier(get(row, regCode)),
			LegalName:    get(row, regName),
			Modality:     get(row, regModality),
			RegionCode:   strings.ToUpper(get(row, regRegion)),
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "registry: load %s", filepath.Base(path))
	}
	if cols == nil {
		if _, err := resolveRegistryColumns(tbl.Header); err != nil {
			return nil, err
		}
	}

	zap.L().Info("registry loaded",
		zap.String("component", "enrich.registry"),
		zap.String("file", filepath.Base(path)),
		zap.Int("rows", tbl.Rows),
		zap.Int("operators", reg.Len()),
	)
	return reg, nil
}
