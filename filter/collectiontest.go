package filter

import "github.com/brightloop/recfetch/valueexpr"

// CollectionTest translates to "[NOT] EXISTS (...)" (spec.md §4.3).
// It is produced for predicates of the form "<collection> => empty" /
// "<collection> => !empty" when <collection> is a bare non-scalar
// property reference, and also backs explicit collection-existence
// tests nested under a junction (spec.md §8 E5).
type CollectionTest struct {
	CollectionBasePath string
	Invert             bool
	Nested             Filter // may be nil: plain existence test
}

func (c *CollectionTest) UsedPaths() []string {
	set := map[string]struct{}{c.CollectionBasePath: {}}
	if c.Nested != nil {
		for _, p := range c.Nested.UsedPaths() {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func (c *CollectionTest) Rebase(basePath string) Filter {
	out := &CollectionTest{CollectionBasePath: basePath + "." + c.CollectionBasePath, Invert: c.Invert}
	if c.Nested != nil {
		out.Nested = c.Nested.Rebase(basePath)
	}
	return out
}

// ExistsBuilder is implemented by the translation context (C7) to
// build the EXISTS subquery shape for a CollectionTest (spec.md §4.6
// buildExistsSubquery).
type ExistsBuilder interface {
	BuildExistsSubquery(basePath string, nested Filter) (string, error)
}

func (c *CollectionTest) Translate(tc valueexpr.TranslationContext, parentKind int) (string, error) {
	eb, ok := tc.(ExistsBuilder)
	if !ok {
		return "", errNoExistsBuilder
	}
	sql, err := eb.BuildExistsSubquery(c.CollectionBasePath, c.Nested)
	if err != nil {
		return "", err
	}
	if c.Invert {
		return "NOT " + sql, nil
	}
	return sql, nil
}

var errNoExistsBuilder = existsBuilderError{}

type existsBuilderError struct{}

func (existsBuilderError) Error() string {
	return "translation context does not implement filter.ExistsBuilder"
}
