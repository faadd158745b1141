package filter

// AliasTable holds compile-time macros resolved to base filter forms. An
// alias takes no arguments, per the grammar's "(<alias>)" production.
type AliasTable struct {
	defs map[string]*Filter
}

// NewAliasTable returns an empty table. Nil is also a valid, empty
// *AliasTable (Expand on a nil receiver always misses).
func NewAliasTable() *AliasTable {
	return &AliasTable{defs: make(map[string]*Filter)}
}

// Register binds name to the expansion produced by build. build is called
// once, here, and every later expansion of name returns that same cached
// tree (filters are shared read-only trees).
func (t *AliasTable) Register(name string, build func() *Filter) {
	t.defs[name] = build()
}

// Expand reports whether name is a registered alias and, if so, returns its
// expansion. args must be empty; a nonempty args for an alias atom is a
// syntax error handled by the caller treating a false return the same as
// "unrecognized atom."
func (t *AliasTable) Expand(name string, args []token) (*Filter, bool) {
	if t == nil {
		return nil, false
	}
	if len(args) != 0 {
		return nil, false
	}
	f, ok := t.defs[name]
	return f, ok
}

// DefaultAliases returns a table with the small set of convenience aliases
// this module ships: stale (created more than a week ago) and
// terminal-failed (any of the three failure-family leaves).
func DefaultAliases() *AliasTable {
	t := NewAliasTable()
	t.Register("stale", func() *Filter {
		return Not(CreatedInThePast(Span{Unit: Weeks, N: 1}))
	})
	t.Register("terminal-failed", func() *Filter {
		return Or(
			Status(KindFailedFromRunning),
			Status(KindFailedFromStarting),
			Status(KindFailedFromCondition),
		)
	})
	return t
}
