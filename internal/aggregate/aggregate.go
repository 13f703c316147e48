// Package aggregate computes per-operator, per-region expense statistics from
// the enriched table.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/enrich"
	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// Key identifies a group.
type Key struct {
	LegalName  string
	RegionCode string
}

// Group holds the statistics of one (legal name, region) pair.
type Group struct {
	Key
	Total  decimal.Decimal
	Mean   decimal.Decimal
	StdDev decimal.Decimal
	Count  int
}

// accumulator keeps a running sum and Welford moments for one group.
type accumulator struct {
	order int
	total decimal.Decimal
	count int
	mean  float64
	m2    float64
}

func (a *accumulator) add(v decimal.Decimal) {
	a.total = a.total.Add(v)
	a.count++
	x := v.InexactFloat64()
	delta := x - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (x - a.mean)
}

// stddev is the sample standard deviation, 0 for a single observation or
// when the moments overflowed float64.
func (a *accumulator) stddev() decimal.Decimal {
	if a.count < 2 {
		return decimal.Zero
	}
	sd := math.Sqrt(a.m2 / float64(a.count-1))
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sd)
}

// Result is the sorted aggregate plus filter counts.
type Result struct {
	Groups   []Group
	Rows     int
	Included int
	Excluded int
}

// Aggregator groups eligible enriched rows.
type Aggregator struct {
	validator ledger.Validator
}

// New returns an Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Eligible reports whether an enriched row counts toward the aggregates. Rows
// flagged with conflicting names are always excluded; the rest are
// re-validated so a name filled in from the registry is honoured.
func (a *Aggregator) Eligible(r enrich.Record) bool {
	if r.Status == ledger.StatusMultipleNames {
		return false
	}
	if !a.validator.CheckIdentifier(r.Identifier).Valid() {
		return false
	}
	if a.validator.CheckValue(r.Amount) != ledger.StatusOK {
		return false
	}
	return a.validator.CheckName(r.LegalName) == ledger.StatusOK
}

// Compute aggregates records in the order given. Groups are sorted by total,
// descending; equal totals keep the order in which the groups first appeared.
func (a *Aggregator) Compute(records []enrich.Record) *Result {
	b := a.newBuilder()
	for _, r := range records {
		b.add(r)
	}
	return b.result()
}

// Run streams the enriched table at path and aggregates it.
func (a *Aggregator) Run(ctx context.Context, path string) (*Result, error) {
	b := a.newBuilder()
	err := enrich.EachRecord(path, func(r enrich.Record) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "aggregate: cancelled")
		}
		b.add(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := b.result()

	zap.L().Info("aggregation complete",
		zap.String("component", "aggregate"),
		zap.Int("rows", res.Rows),
		zap.Int("included", res.Included),
		zap.Int("groups", len(res.Groups)),
	)
	return res, nil
}

type builder struct {
	agg    *Aggregator
	groups map[Key]*accumulator
	res    Result
}

func (a *Aggregator) newBuilder() *builder {
	return &builder{agg: a, groups: make(map[Key]*accumulator)}
}

func (b *builder) add(r enrich.Record) {
	b.res.Rows++
	if !b.agg.Eligible(r) {
		b.res.Excluded++
		return
	}
	b.res.Included++
	k := Key{LegalName: r.LegalName, RegionCode: r.RegionCode}
	acc, ok := b.groups[k]
	if !ok {
		acc = &accumulator{order: len(b.groups)}
		b.groups[k] = acc
	}
	acc.add(r.Amount.Decimal)
}

func (b *builder) result() *Result {
	type entry struct {
		key Key
		acc *accumulator
	}
	entries := make([]entry, 0, len(b.groups))
	for k, acc := range b.groups {
		entries = append(entries, entry{key: k, acc: acc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].acc.order < entries[j].acc.order })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].acc.total.GreaterThan(entries[j].acc.total) })

	res := b.res
	res.Groups = make([]Group, len(entries))
	for i, e := range entries {
		res.Groups[i] = Group{
			Key:    e.key,
			Total:  e.acc.total,
			Mean:   e.acc.total.Div(decimal.NewFromInt(int64(e.acc.count))),
			StdDev: e.acc.stddev(),
			Count:  e.acc.count,
		}
	}
	return &res
}
