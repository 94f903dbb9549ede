package filter

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"sjsage522/flatwatcher/internal/listing"
)

// Matches reports whether l satisfies every active dimension of f.
func Matches(l listing.Listing, f Filter) bool {
	return MatchesDistrict(l, f) &&
		MatchesStation(l, f.Stations) &&
		MatchesRooms(l, f) &&
		MatchesOwner(l, f)
}

// MatchesDistrict passes when no districts are selected or the listing district is unknown.
func MatchesDistrict(l listing.Listing, f Filter) bool {
	if len(f.Districts) == 0 || l.District == "" {
		return true
	}
	for _, d := range f.Districts {
		if strings.EqualFold(strings.TrimSpace(d), l.District) {
			return true
		}
	}
	return false
}

// MatchesStation passes when no stations are selected, the listing has no station,
// or a selected station appears as whole words in the listing's station text.
func MatchesStation(l listing.Listing, stations []string) bool {
	if len(stations) == 0 || !l.HasStation() {
		return true
	}
	text := NormalizeStation(l.TransitStation)
	for _, s := range stations {
		if containsStation(text, NormalizeStation(s)) {
			return true
		}
	}
	return false
}

// MatchesRooms fails listings with unknown rooms while a room filter is active.
func MatchesRooms(l listing.Listing, f Filter) bool {
	if len(f.Rooms) == 0 {
		return true
	}
	if l.Rooms == listing.RoomsUnknown {
		return false
	}
	return slices.Contains(f.Rooms, l.Rooms)
}

// MatchesOwner requires an owner listing when owner-only is set.
func MatchesOwner(l listing.Listing, f Filter) bool {
	return !f.OwnerOnly || l.IsOwnerListed
}

// NormalizeStation lowercases, folds ё and strips the "м." marker and surrounding noise.
func NormalizeStation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.TrimPrefix(s, "м.")
	s = strings.TrimPrefix(s, "метро ")
	return strings.Join(strings.Fields(s), " ")
}

// containsStation finds station inside text on word boundaries, so
// "сокол" does not match "сокольники".
func containsStation(text, station string) bool {
	if station == "" || text == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], station)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(station)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
