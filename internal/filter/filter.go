// Package filter models a subscriber's saved search and decides which listings satisfy it.
package filter

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"sjsage522/flatwatcher/internal/listing"
)

// DefaultCity is assumed when a stored document carries no city.
const DefaultCity = "Москва"

// Filter is a subscriber's search criteria. Empty sets mean no restriction.
type Filter struct {
	City      string
	Districts []string
	Rooms     []listing.RoomCount
	Stations  []string
	OwnerOnly bool
}

// document is the persisted shape of a filter.
type document struct {
	City      string   `json:"city"`
	Districts []string `json:"districts"`
	Rooms     []string `json:"rooms"`
	Metros    []string `json:"metros"`
	OwnerOnly bool     `json:"owner_only"`
}

// Decode turns a stored filter document into a Filter. Missing keys take
// defaults and unknown room labels are dropped.
func Decode(doc []byte) (Filter, error) {
	var d document
	trimmed := strings.TrimSpace(string(doc))
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &d); err != nil {
			return Filter{}, fmt.Errorf("failed to decode filter document: %w", err)
		}
	}

	f := Filter{
		City:      strings.TrimSpace(d.City),
		OwnerOnly: d.OwnerOnly,
	}
	if f.City == "" {
		f.City = DefaultCity
	}
	for _, code := range d.Districts {
		f.Districts = appendUnique(f.Districts, strings.ToUpper(strings.TrimSpace(code)))
	}
	for _, station := range d.Metros {
		f.Stations = appendUnique(f.Stations, strings.TrimSpace(station))
	}
	for _, label := range d.Rooms {
		if r, ok := listing.ParseRoomCount(label); ok && !slices.Contains(f.Rooms, r) {
			f.Rooms = append(f.Rooms, r)
		}
	}
	return f, nil
}

// Encode produces the persisted document form.
func (f Filter) Encode() ([]byte, error) {
	d := document{
		City:      f.City,
		Districts: nonNil(f.Districts),
		Metros:    nonNil(f.Stations),
		Rooms:     []string{},
		OwnerOnly: f.OwnerOnly,
	}
	for _, r := range f.Rooms {
		d.Rooms = append(d.Rooms, r.String())
	}
	return json.Marshal(d)
}

// IsEmpty reports whether no dimension is active.
func (f Filter) IsEmpty() bool {
	return len(f.Districts) == 0 && len(f.Rooms) == 0 && len(f.Stations) == 0 && !f.OwnerOnly
}

// Fingerprint is the canonical form of the filter's structural dimensions.
// Element order and duplicates do not change it.
func (f Filter) Fingerprint() string {
	districts := make([]string, 0, len(f.Districts))
	for _, d := range f.Districts {
		districts = append(districts, strings.ToUpper(strings.TrimSpace(d)))
	}

	rooms := make([]string, 0, len(f.Rooms))
	for _, r := range f.Rooms {
		rooms = append(rooms, r.Code())
	}

	stations := make([]string, 0, len(f.Stations))
	for _, s := range f.Stations {
		if norm := NormalizeStation(s); norm != "" {
			stations = append(stations, norm)
		}
	}

	return "d=" + canonical(districts) +
		"|r=" + canonical(rooms) +
		"|s=" + canonical(stations) +
		"|o=" + strconv.FormatBool(f.OwnerOnly)
}

// Key is the fixed-width cache key derived from the fingerprint.
func (f Filter) Key() string {
	return "q:" + strconv.FormatUint(xxhash.Sum64String(f.Fingerprint()), 16)
}

// Summary renders a short human readable description.
func (f Filter) Summary() string {
	if f.IsEmpty() {
		return f.City + ": any"
	}
	parts := []string{f.City}
	if len(f.Districts) > 0 {
		parts = append(parts, "districts "+strings.Join(f.Districts, ", "))
	}
	if len(f.Rooms) > 0 {
		labels := make([]string, 0, len(f.Rooms))
		for _, r := range f.Rooms {
			labels = append(labels, r.String())
		}
		parts = append(parts, "rooms "+strings.Join(labels, ", "))
	}
	if len(f.Stations) > 0 {
		parts = append(parts, "metro "+strings.Join(f.Stations, ", "))
	}
	if f.OwnerOnly {
		parts = append(parts, "owners only")
	}
	return strings.Join(parts, "; ")
}

func canonical(values []string) string {
	sort.Strings(values)
	return strings.Join(slices.Compact(values), ",")
}

func appendUnique(values []string, v string) []string {
	if v == "" || slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
