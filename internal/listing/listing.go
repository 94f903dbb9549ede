// Package listing holds the normalized record extracted from one search-result card.
package listing

import (
	"strconv"
	"strings"
)

// Unspecified marks a text field the extractor could not recover.
const Unspecified = "unspecified"

// Placeholders used when floor or area cannot be parsed.
const (
	UnknownFloor = "?/?"
	UnknownArea  = "? м²"
)

// Listing is one flat-sale advertisement. Values are never mutated once
// handed out; use the With* helpers to derive a changed copy.
type Listing struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Price          string    `json:"price"`
	Address        string    `json:"address"`
	TransitStation string    `json:"transit_station"`
	Floor          string    `json:"floor"`
	Area           string    `json:"area"`
	Rooms          RoomCount `json:"rooms"`
	IsOwnerListed  bool      `json:"is_owner_listed"`
	PhotoURLs      []string  `json:"photo_urls,omitempty"`
	// District is the short administrative district code, empty when unresolved.
	District string `json:"district,omitempty"`
}

// WithDistrict returns a copy of l with the district set.
func (l Listing) WithDistrict(district string) Listing {
	out := l.Clone()
	out.District = district
	return out
}

// Clone returns a deep copy of l.
func (l Listing) Clone() Listing {
	out := l
	if l.PhotoURLs != nil {
		out.PhotoURLs = append([]string(nil), l.PhotoURLs...)
	}
	return out
}

// HasStation reports whether a transit station was recovered.
func (l Listing) HasStation() bool {
	return l.TransitStation != "" && l.TransitStation != Unspecified
}

// CloneAll deep-copies a batch of listings.
func CloneAll(in []Listing) []Listing {
	if in == nil {
		return nil
	}
	out := make([]Listing, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}

// RoomCount is the room dimension of a listing.
type RoomCount int

const (
	RoomsUnknown RoomCount = iota
	Studio
	OneRoom
	TwoRooms
	ThreeRooms
	FourPlusRooms
)

var roomLabels = map[RoomCount]string{
	RoomsUnknown:  "unknown",
	Studio:        "Студия",
	OneRoom:       "1-комнатная",
	TwoRooms:      "2-комнатная",
	ThreeRooms:    "3-комнатная",
	FourPlusRooms: "4-комнатная+",
}

var roomAliases = map[string]RoomCount{
	"studio": Studio,
	"студия": Studio,
	"0":      Studio,
	"1":      OneRoom,
	"2":      TwoRooms,
	"3":      ThreeRooms,
	"4":      FourPlusRooms,
	"4+":     FourPlusRooms,
}

// AllRooms lists every known room count in display order.
var AllRooms = []RoomCount{Studio, OneRoom, TwoRooms, ThreeRooms, FourPlusRooms}

// String returns the label subscribers pick from.
func (r RoomCount) String() string {
	if label, ok := roomLabels[r]; ok {
		return label
	}
	return roomLabels[RoomsUnknown]
}

// Code is the short stable form used in fingerprints.
func (r RoomCount) Code() string {
	switch r {
	case Studio:
		return "studio"
	case FourPlusRooms:
		return "4+"
	case OneRoom, TwoRooms, ThreeRooms:
		return strconv.Itoa(int(r - Studio))
	default:
		return "unknown"
	}
}

// RoomCountFromNumber maps a parsed room number; four and above collapse to FourPlusRooms.
func RoomCountFromNumber(n int) RoomCount {
	switch {
	case n <= 0:
		return RoomsUnknown
	case n >= 4:
		return FourPlusRooms
	default:
		return Studio + RoomCount(n)
	}
}

// ParseRoomCount accepts store labels and short codes.
func ParseRoomCount(label string) (RoomCount, bool) {
	norm := strings.ToLower(strings.TrimSpace(label))
	for r, l := range roomLabels {
		if r != RoomsUnknown && strings.ToLower(l) == norm {
			return r, true
		}
	}
	if r, ok := roomAliases[norm]; ok {
		return r, true
	}
	return RoomsUnknown, false
}

// MarshalText encodes the room count as its label.
func (r RoomCount) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a label; unknown labels decode to RoomsUnknown.
func (r *RoomCount) UnmarshalText(text []byte) error {
	parsed, _ := ParseRoomCount(string(text))
	*r = parsed
	return nil
}
