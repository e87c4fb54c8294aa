package dbdriver

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/errs"
)

// ParamsHandler accumulates parameter values encountered while
// translating a filter/order/value-expression (named via param("name")
// or anonymous literals) and resolves the `?{ref}` placeholders the
// translator embeds in SQL text into driver-encoded literals just
// before execution (spec.md §4.9, §6).
type ParamsHandler struct {
	dialect Dialect
	bound   map[string]any
	next    int
}

func NewParamsHandler(dialect Dialect) *ParamsHandler {
	return &ParamsHandler{dialect: dialect, bound: map[string]any{}}
}

// BindNamed registers a named parameter (from a filter spec's
// `param("name")`) to be supplied later via the fetch call's params
// map. It returns the `?{name}` placeholder token.
func (h *ParamsHandler) BindNamed(name string) string {
	return "?{" + name + "}"
}

// BindLiteral registers an anonymous literal value and returns its
// placeholder token, keyed by an auto-incrementing integer (matching
// spec.md §8 E2's `?{0}`).
func (h *ParamsHandler) BindLiteral(value any) string {
	key := strconv.Itoa(h.next)
	h.next++
	h.bound[key] = value
	return "?{" + key + "}"
}

// SupplyNamed provides the runtime value for every `param("name")`
// reference bound during translation, from the fetch call's params
// map. Missing names are reported as errs.ErrMissingParam at Resolve
// time, not eagerly, since a named param may be bound but never used
// by the chosen statement shape.
func (h *ParamsHandler) SupplyNamed(name string, value any) {
	h.bound[name] = value
}

var placeholderRE = regexp.MustCompile(`\?\{([^}]*)\}`)

// Resolve replaces every `?{ref}` placeholder in sql with its
// driver-encoded literal. A ref with no bound value fails with
// errs.ErrMissingParam; a NaN value, or a value the dialect cannot
// encode, fails with errs.ErrInvalidParamValue. A nil value is not
// rejected here: it is handed to the dialect's SQL encoder like any
// other value.
func (h *ParamsHandler) Resolve(sql string) (string, error) {
	var resolveErr error
	out := placeholderRE.ReplaceAllStringFunc(sql, func(m string) string {
		if resolveErr != nil {
			return m
		}
		ref := placeholderRE.FindStringSubmatch(m)[1]
		v, ok := h.bound[ref]
		if !ok {
			resolveErr = errs.ErrMissingParam.New(ref)
			return m
		}
		if f, isFloat := v.(float64); isFloat && math.IsNaN(f) {
			resolveErr = errs.ErrInvalidParamValue.New(ref, "NaN")
			return m
		}
		s, err := h.dialect.SQL(v)
		if err != nil {
			resolveErr = errs.ErrInvalidParamValue.New(ref, err.Error())
			return m
		}
		return s
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return out, nil
}

// ReferencedNames returns every named (non-anonymous) placeholder
// referenced in sql, for upfront validation that the caller supplied
// every name the filter actually uses.
func (h *ParamsHandler) ReferencedNames(sql string) []string {
	var names []string
	for _, m := range placeholderRE.FindAllStringSubmatch(sql, -1) {
		ref := m[1]
		if _, err := strconv.Atoi(ref); err != nil {
			names = append(names, ref)
		}
	}
	return names
}

func (h *ParamsHandler) String() string {
	var b strings.Builder
	for k, v := range h.bound {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	return b.String()
}
