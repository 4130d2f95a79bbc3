package alias

import (
	"log/slog"
	"strings"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Resolution methods.
const (
	MethodExact      = "exact"
	MethodFolded     = "folded"
	MethodUnresolved = "unresolved"
)

// Resolution is the outcome of resolving one raw test name.
type Resolution struct {
	// Canonical is empty when Method is MethodUnresolved.
	Canonical string

	// Raw is the token as given.
	Raw string

	// Method records which step matched.
	Method string
}

// Resolved reports whether a canonical identifier was found.
func (r Resolution) Resolved() bool {
	return r.Method != MethodUnresolved
}

// Standardizer maps raw test names to canonical identifiers.
// It holds no mutable state and may be shared across goroutines.
type Standardizer struct {
	table  *Table
	logger *slog.Logger
}

// NewStandardizer wraps an alias table.
func NewStandardizer(table *Table, logger *slog.Logger) *Standardizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standardizer{table: table, logger: logger}
}

// Table returns the underlying alias table.
func (s *Standardizer) Table() *Table {
	return s.table
}

// Resolve runs exact lookup, then folded lookup, then gives up.
// Resolving a canonical identifier returns it unchanged.
func (s *Standardizer) Resolve(raw string) Resolution {
	res := Resolution{Raw: raw, Method: MethodUnresolved}
	if strings.TrimSpace(raw) == "" {
		return res
	}
	if c, ok := s.table.lookupExact(raw); ok {
		res.Canonical, res.Method = c, MethodExact
		return res
	}
	if c, ok := s.table.lookupFolded(raw); ok {
		res.Canonical, res.Method = c, MethodFolded
		s.logger.Debug("alias.folded_match", "raw", raw, "canonical", c)
		return res
	}
	return res
}

// ResolveAll fills the canonical identifier of every result in place and
// returns the unresolved names, one entry per raw name.
func (s *Standardizer) ResolveAll(results []types.ParsedResult) []types.UnresolvedName {
	cache := make(map[string]Resolution)
	for i := range results {
		raw := results[i].RawName
		res, ok := cache[raw]
		if !ok {
			res = s.Resolve(raw)
			cache[raw] = res
		}
		results[i].Canonical = res.Canonical
	}

	unresolved := types.AggregateUnresolved(results)
	for _, u := range unresolved {
		s.logger.Info("alias.unresolved", "raw", u.Raw, "count", u.Count)
	}
	return unresolved
}
