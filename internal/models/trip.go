package models

import (
	"sort"
	"strconv"
	"strings"
)

// ItemType categorises an itinerary stop. It only drives presentation
// styling on the client; the store treats it as an opaque label.
type ItemType string

const (
	ItemTypeFood      ItemType = "food"
	ItemTypeSight     ItemType = "sight"
	ItemTypeTransport ItemType = "transport"
	ItemTypeHotel     ItemType = "hotel"
	ItemTypeShopping  ItemType = "shopping"
	ItemTypeOther     ItemType = "other"
)

// DefaultClock is the time assigned to items that arrive without one.
const DefaultClock = "12:00"

// ItineraryItem is one scheduled stop in a day plan.
//
// Time is stored as free-form text but is expected to normalize to HH:MM;
// always compare via NormalizeClock. RowKind and IsDummy are transient
// rendering tags used by the client for placeholder rows (tabs, summary
// header) and must never be persisted as real items.
type ItineraryItem struct {
	ID         string   `json:"id"`
	Time       string   `json:"time"`
	Title      string   `json:"title"`
	Note       string   `json:"note"`
	Type       ItemType `json:"type"`
	MapsURL    string   `json:"mapsUrl"`
	TitleEmoji string   `json:"titleEmoji,omitempty"`
	RowKind    string   `json:"itemType,omitempty"`
	IsDummy    bool     `json:"isDummy,omitempty"`
}

// IsPlaceholder reports whether the item is a synthetic rendering row
// rather than a real stop.
func (it ItineraryItem) IsPlaceholder() bool {
	return it.IsDummy || (it.RowKind != "" && it.RowKind != "REAL_ITEM")
}

// DayNumber decodes tolerantly: the spreadsheet backend sometimes returns
// day numbers as strings ("2") instead of numbers. Unparseable or zero
// values coerce to 1.
type DayNumber int

func (d *DayNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	*d = DayNumber(leadingInt(s))
	return nil
}

// leadingInt mimics parseInt(s, 10) || 1: parse the leading integer
// portion and fall back to 1 when there is none (or it is zero).
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i {
		return 1
	}
	n, err := strconv.Atoi(s[:j])
	if err != nil || n == 0 {
		return 1
	}
	return n
}

// DayPlan is one day's summary and ordered list of stops. Item order is
// sort order by normalized time, not insertion order.
type DayPlan struct {
	Day     DayNumber       `json:"day"`
	Summary string          `json:"summary"`
	Items   []ItineraryItem `json:"items"`
}

// Trip is the full ordered collection of day plans and the unit of
// persistence: every mutation re-sends the whole trip to the remote store.
type Trip []DayPlan

// Clone returns a deep copy of the trip so snapshots handed to callers
// can never alias the store's state.
func (t Trip) Clone() Trip {
	if t == nil {
		return Trip{}
	}
	out := make(Trip, len(t))
	for i, d := range t {
		items := make([]ItineraryItem, len(d.Items))
		copy(items, d.Items)
		d.Items = items
		out[i] = d
	}
	return out
}

// NormalizeClock canonicalizes heterogeneous time values into a fixed-width
// HH:MM 24-hour string, the sole sort key for items within a day.
//
//	""                          -> "12:00"
//	"9:00"                      -> "09:00"
//	"09:00:30"                  -> "09:00"
//	"1899-12-30T09:00:00.000Z"  -> "09:00"
//
// Input without a recognizable time segment passes through unchanged; the
// function is idempotent on its own output.
func NormalizeClock(raw string) string {
	if raw == "" {
		return DefaultClock
	}

	target := raw
	// Date-time strings carry the clock after the 'T' separator.
	if i := strings.IndexByte(raw, 'T'); i >= 0 {
		target = raw[i+1:]
		if len(target) > 5 {
			target = target[:5]
		}
	}

	parts := strings.Split(target, ":")
	if len(parts) >= 2 {
		hh := zeroPad2(parts[0])
		mm := parts[1]
		if len(mm) > 2 {
			mm = mm[:2]
		}
		return hh + ":" + zeroPad2(mm)
	}
	return target
}

func zeroPad2(s string) string {
	for len(s) < 2 {
		s = "0" + s
	}
	return s
}

// SortItemsByTime returns a new slice ordered by normalized time ascending.
// The sort is stable: items sharing a normalized time keep their relative
// input order. Lexicographic comparison is valid because the normalized
// form is fixed-width zero-padded.
func SortItemsByTime(items []ItineraryItem) []ItineraryItem {
	out := make([]ItineraryItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return NormalizeClock(out[i].Time) < NormalizeClock(out[j].Time)
	})
	return out
}

// SortDaysByNumber returns a new slice ordered by day number ascending.
func SortDaysByNumber(days Trip) Trip {
	out := make(Trip, len(days))
	copy(out, days)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Day < out[j].Day
	})
	return out
}

// RenumberDays rewrites day numbers to the contiguous run 1..N, preserving
// order. Applied after a day deletion and on every load so the trip never
// carries gaps or duplicates.
func RenumberDays(days Trip) Trip {
	out := make(Trip, len(days))
	copy(out, days)
	for i := range out {
		out[i].Day = DayNumber(i + 1)
	}
	return out
}
