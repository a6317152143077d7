// Package segment routes each card occurrence to a named segment before
// accumulation. Every segment is aggregated independently.
package segment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// DefaultLabel is the segment used when no routing is configured.
const DefaultLabel = "all"

// ErrOverlap is returned when a card is assigned to more than one segment.
var ErrOverlap = errors.New("card assigned to more than one segment")

// Router assigns exactly one segment label to a card.
type Router interface {
	Route(c model.Card) string
	// Labels lists every label Route can return, sorted.
	Labels() []string
}

// Single puts every card in one segment.
type Single string

func (s Single) Route(model.Card) string { return string(s) }
func (s Single) Labels() []string        { return []string{string(s)} }

// Field routes on one trailing tuple field: truthy values go to Truthy,
// everything else (including a missing field) to Falsy.
type Field struct {
	Index  int
	Truthy string
	Falsy  string
}

func (f Field) Route(c model.Card) string {
	if Truthy(c.Field(f.Index)) {
		return f.Truthy
	}
	return f.Falsy
}

func (f Field) Labels() []string {
	out := []string{f.Truthy, f.Falsy}
	sort.Strings(out)
	return out
}

// Truthy interprets a rendered tuple field the way the source data encodes
// flags: non-zero numbers and True are set, empty, 0, False and None are not.
func Truthy(v string) bool {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "0", "false", "none", "null":
		return false
	case "true":
		return true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return true
}

// Items routes by explicit card lists. Lists must be disjoint.
type Items struct {
	byCard   map[string]string
	labels   []string
	fallback string
}

// NewItems builds an Items router. Cards not listed go to fallback.
func NewItems(lists map[string][]string, fallback string) (*Items, error) {
	if fallback == "" {
		return nil, fmt.Errorf("items router: empty default label")
	}
	r := &Items{byCard: make(map[string]string), fallback: fallback}
	seen := map[string]struct{}{fallback: {}}

	// Sorted label order keeps the overlap error deterministic.
	names := make([]string, 0, len(lists))
	for label := range lists {
		names = append(names, label)
	}
	sort.Strings(names)

	for _, label := range names {
		if label == "" {
			return nil, fmt.Errorf("items router: empty label")
		}
		seen[label] = struct{}{}
		for _, card := range lists[label] {
			if prev, ok := r.byCard[card]; ok && prev != label {
				return nil, fmt.Errorf("%w: %q in %q and %q", ErrOverlap, card, prev, label)
			}
			r.byCard[card] = label
		}
	}
	for label := range seen {
		r.labels = append(r.labels, label)
	}
	sort.Strings(r.labels)
	return r, nil
}

func (r *Items) Route(c model.Card) string {
	if label, ok := r.byCard[c.ID]; ok {
		return label
	}
	return r.fallback
}

func (r *Items) Labels() []string { return append([]string(nil), r.labels...) }

// Config selects and parameterizes a router.
type Config struct {
	Mode    string              `mapstructure:"mode" validate:"omitempty,oneof=none field items"`
	Field   int                 `mapstructure:"field" validate:"gte=0"`
	Truthy  string              `mapstructure:"truthy"`
	Falsy   string              `mapstructure:"falsy"`
	Default string              `mapstructure:"default"`
	Items   map[string][]string `mapstructure:"items"`
}

// FromConfig builds the router described by cfg.
func FromConfig(cfg Config) (Router, error) {
	switch cfg.Mode {
	case "", "none":
		label := cfg.Default
		if label == "" {
			label = DefaultLabel
		}
		return Single(label), nil
	case "field":
		truthy, falsy := cfg.Truthy, cfg.Falsy
		if truthy == "" {
			truthy = "evo"
		}
		if falsy == "" {
			falsy = "non_evo"
		}
		if truthy == falsy {
			return nil, fmt.Errorf("field router: truthy and falsy labels are both %q", truthy)
		}
		return Field{Index: cfg.Field, Truthy: truthy, Falsy: falsy}, nil
	case "items":
		fallback := cfg.Default
		if fallback == "" {
			fallback = "other"
		}
		return NewItems(cfg.Items, fallback)
	default:
		return nil, fmt.Errorf("unknown segment mode %q", cfg.Mode)
	}
}
