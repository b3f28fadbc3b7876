// Package normalize turns exchange-native tick rows into canonical events.
package normalize

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"tick_book/internal/domain"
	"tick_book/internal/event"
)

// Category is the kind of raw file a row comes from.
type Category string

const (
	CategoryOrder Category = "order"
	CategoryTrade Category = "trade"
)

// MappingKey selects a mapping.
type MappingKey struct {
	Exchange string
	Category Category
}

func (k MappingKey) String() string {
	return k.Exchange + "/" + string(k.Category)
}

// ParseMappingKey parses "exchange/category".
func ParseMappingKey(s string) (MappingKey, error) {
	ex, cat, ok := strings.Cut(strings.ToLower(s), "/")
	if !ok || ex == "" || (cat != string(CategoryOrder) && cat != string(CategoryTrade)) {
		return MappingKey{}, fmt.Errorf("invalid mapping key %q, want exchange/order or exchange/trade", s)
	}
	return MappingKey{Exchange: ex, Category: Category(cat)}, nil
}

// Mapping declares how one (exchange, category) raw layout maps to events.
// Code tables map raw values to canonical names (ADD, CANCEL, TRADE; BUY,
// SELL, or "" for a known-unknown side). Codes absent from a table drop the row.
type Mapping struct {
	TimeColumn    string       `yaml:"time_column"`
	PriceColumn   string       `yaml:"price_column"`
	VolumeColumn  string       `yaml:"volume_column"`
	SideColumn    string       `yaml:"side_column"`
	KindColumn    string       `yaml:"kind_column"`
	OrderIDColumn string       `yaml:"order_id_column"`
	BuyIDColumn   string       `yaml:"buy_id_column"`
	SellIDColumn  string       `yaml:"sell_id_column"`
	TimeEncoding  TimeEncoding `yaml:"time_encoding"`
	Timezone      string       `yaml:"timezone"`

	KindCodes   map[string]string `yaml:"kind_codes"`
	SideCodes   map[string]string `yaml:"side_codes"`
	DefaultKind string            `yaml:"default_kind"`

	// CancelFromCounterparty takes a cancel's id and side from whichever of
	// the buy/sell id columns is non-zero.
	CancelFromCounterparty bool `yaml:"cancel_from_counterparty"`
	// AggressorFromLaterID infers a trade's aggressor as the side whose id
	// is larger (arrived later) when no side column is present.
	AggressorFromLaterID bool `yaml:"aggressor_from_later_id"`

	// Replace makes an override discard the built-in mapping instead of merging.
	Replace bool `yaml:"replace"`
}

// columns returns every declared column, all of which are required in a header.
func (m Mapping) columns() []namedColumn {
	all := []namedColumn{
		{"time", m.TimeColumn},
		{"price", m.PriceColumn},
		{"volume", m.VolumeColumn},
		{"side", m.SideColumn},
		{"event_kind", m.KindColumn},
		{"order_id", m.OrderIDColumn},
		{"buy_id", m.BuyIDColumn},
		{"sell_id", m.SellIDColumn},
	}
	out := all[:0]
	for _, c := range all {
		if c.column != "" {
			out = append(out, c)
		}
	}
	return out
}

type namedColumn struct {
	field  string
	column string
}

func (m Mapping) validate(key MappingKey) error {
	fail := func(field string, err error) error {
		return &domain.ConfigError{Field: "exchanges." + key.String() + "." + field, Err: err}
	}
	if m.TimeColumn == "" {
		return fail("time_column", fmt.Errorf("required"))
	}
	if m.VolumeColumn == "" {
		return fail("volume_column", fmt.Errorf("required"))
	}
	if !m.TimeEncoding.valid() {
		return fail("time_encoding", fmt.Errorf("unknown encoding %q", m.TimeEncoding))
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fail("timezone", err)
	}
	if m.KindColumn == "" {
		if _, ok := event.ParseKind(m.DefaultKind); !ok {
			return fail("default_kind", fmt.Errorf("no kind column and no valid default kind (%q)", m.DefaultKind))
		}
	}
	for raw, name := range m.KindCodes {
		if _, ok := event.ParseKind(name); !ok {
			return fail("kind_codes", fmt.Errorf("code %q maps to unknown kind %q", raw, name))
		}
	}
	for raw, name := range m.SideCodes {
		if _, ok := event.ParseSide(name); !ok {
			return fail("side_codes", fmt.Errorf("code %q maps to unknown side %q", raw, name))
		}
	}
	if m.OrderIDColumn == "" && m.BuyIDColumn == "" && m.SellIDColumn == "" {
		return fail("order_id_column", fmt.Errorf("no id column declared"))
	}
	return nil
}

// merge overlays the non-empty fields of o onto m.
func (m Mapping) merge(o Mapping) Mapping {
	if o.Replace {
		o.Replace = false
		return o
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&m.TimeColumn, o.TimeColumn)
	set(&m.PriceColumn, o.PriceColumn)
	set(&m.VolumeColumn, o.VolumeColumn)
	set(&m.SideColumn, o.SideColumn)
	set(&m.KindColumn, o.KindColumn)
	set(&m.OrderIDColumn, o.OrderIDColumn)
	set(&m.BuyIDColumn, o.BuyIDColumn)
	set(&m.SellIDColumn, o.SellIDColumn)
	set(&m.Timezone, o.Timezone)
	set(&m.DefaultKind, o.DefaultKind)
	if o.TimeEncoding != "" {
		m.TimeEncoding = o.TimeEncoding
	}
	m.CancelFromCounterparty = m.CancelFromCounterparty || o.CancelFromCounterparty
	m.AggressorFromLaterID = m.AggressorFromLaterID || o.AggressorFromLaterID

	m.KindCodes = mergeCodes(m.KindCodes, o.KindCodes)
	m.SideCodes = mergeCodes(m.SideCodes, o.SideCodes)
	return m
}

func mergeCodes(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// Mappings is the read-only set of resolved mappings for a process.
type Mappings map[MappingKey]Mapping

// Resolve merges YAML overrides (keyed "exchange/category") onto the
// built-in mappings and validates the result. It runs once at startup.
func Resolve(builtin Mappings, overrides map[string]Mapping) (Mappings, error) {
	out := make(Mappings, len(builtin)+len(overrides))
	for k, m := range builtin {
		out[k] = m.merge(Mapping{})
	}
	for raw, o := range overrides {
		key, err := ParseMappingKey(raw)
		if err != nil {
			return nil, &domain.ConfigError{Field: "exchanges", Err: err}
		}
		if base, ok := out[key]; ok {
			out[key] = base.merge(o)
		} else {
			out[key] = o
		}
	}
	for k, m := range out {
		if err := m.validate(k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Lookup returns the mapping for an exchange and category.
func (ms Mappings) Lookup(exchange string, cat Category) (Mapping, error) {
	key := MappingKey{Exchange: strings.ToLower(exchange), Category: cat}
	m, ok := ms[key]
	if !ok {
		return Mapping{}, &domain.ConfigError{Field: "exchanges", Err: fmt.Errorf("no mapping for %s", key)}
	}
	return m, nil
}

// Categories returns the categories declared for an exchange, orders first.
func (ms Mappings) Categories(exchange string) []Category {
	var cats []Category
	for _, c := range []Category{CategoryOrder, CategoryTrade} {
		if _, ok := ms[MappingKey{Exchange: strings.ToLower(exchange), Category: c}]; ok {
			cats = append(cats, c)
		}
	}
	return cats
}
