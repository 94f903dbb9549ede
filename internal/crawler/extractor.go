package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/html"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
	apperrors "sjsage522/flatwatcher/pkg/errors"
)

var (
	idRegex         = regexp.MustCompile(`/(\d+)/?$`)
	roomsRegex      = regexp.MustCompile(`(\d+)\s*[-\s]\s*комн`)
	floorRegex      = regexp.MustCompile(`(\d+)\s*этаж\s*из\s*(\d+)`)
	floorSlashRegex = regexp.MustCompile(`(\d+)\s*/\s*(\d+)\s*этаж`)
	floorOnlyRegex  = regexp.MustCompile(`(\d+)\s*этаж`)
	areaRegex       = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*м²`)

	photoExclusions = []string{"avatar", "icon", "placeholder", "logo", "stub"}
)

// Field selectors: a primary one and a class-family fallback.
var (
	titleSelectors   = []string{"h3", `span[data-mark="OfferTitle"]`, `[class*="title"]`}
	priceSelectors   = []string{`span[data-mark="MainPrice"]`, `span[class*="price"]`}
	addressSelectors = []string{"address", `span[class*="address"]`, `a[data-name="GeoLabel"]`}
	metroSelectors   = []string{`span[class*="underground"]`, `a[href*="metro"]`}
	charsSelector    = `span[class*="characteristic"]`
)

// Extractor turns a results page into listings.
type Extractor struct {
	baseURL    *url.URL
	strategies []CardStrategy
	log        *logger.Logger
}

// NewExtractor creates an extractor resolving relative links against baseURL.
func NewExtractor(baseURL string) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.NewConfiguration(fmt.Sprintf("invalid base URL %q", baseURL), err)
	}
	return &Extractor{
		baseURL:    base,
		strategies: DefaultCardStrategies,
		log:        logger.ForCrawler("extract"),
	}, nil
}

// WithStrategies replaces the card discovery chain.
func (e *Extractor) WithStrategies(strategies []CardStrategy) *Extractor {
	e.strategies = strategies
	return e
}

// Extract returns the listings found in html.
func (e *Extractor) Extract(body string, opts ExtractOptions) []listing.Listing {
	return e.ExtractPage(body, opts).Listings
}

// ExtractPage returns the listings together with how the page was read.
func (e *Extractor) ExtractPage(body string, opts ExtractOptions) PageResult {
	var result PageResult

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to parse page")
		return result
	}

	var cards *goquery.Selection
	for _, strategy := range e.strategies {
		found := doc.Find(strategy.Selector)
		if found.Length() > 0 {
			cards = found
			result.Strategy = strategy.Name
			break
		}
	}
	if cards == nil {
		e.log.Warn().Int("bytes", len(body)).Msg("No card selector matched")
		return result
	}

	result.Cards = cards.Length()
	if opts.MaxCards > 0 && cards.Length() > opts.MaxCards {
		cards = cards.Slice(0, opts.MaxCards)
	}

	e.log.Debug().
		Str("strategy", result.Strategy).
		Int("cards", result.Cards).
		Int("inspected", cards.Length()).
		Msg("Cards located")

	cards.Each(func(i int, card *goquery.Selection) {
		l, ok, err := e.extractCard(card, opts)
		switch {
		case err != nil:
			result.Failed++
			e.log.Error().Err(err).Int("card", i).Msg("Failed to extract card")
		case !ok:
			result.Skipped++
		default:
			result.Listings = append(result.Listings, l)
		}
	})

	return result
}

func (e *Extractor) extractCard(card *goquery.Selection, opts ExtractOptions) (l listing.Listing, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewParsing("extractor", "card panicked", fmt.Errorf("%v", r))
			ok = false
		}
	}()

	link := e.cardLink(card)
	if link == nil {
		return l, false, nil
	}

	title := firstText(card, titleSelectors)
	chars := characteristics(card)

	l = listing.Listing{
		ID:             listingID(link),
		Title:          title,
		URL:            link.String(),
		Price:          firstText(card, priceSelectors),
		Address:        firstText(card, addressSelectors),
		TransitStation: firstText(card, metroSelectors),
		Floor:          parseFloor(chars),
		Area:           parseArea(chars),
		Rooms:          parseRooms(title, chars),
		IsOwnerListed:  hasOwnerMarker(card),
		PhotoURLs:      e.photos(card, opts.MaxPhotos),
	}

	if c := opts.Constraints; c != nil {
		if !filter.MatchesRooms(l, *c) || !filter.MatchesOwner(l, *c) {
			return l, false, nil
		}
	}
	if !filter.MatchesStation(l, opts.Stations) {
		return l, false, nil
	}

	return l, true, nil
}

// cardLink returns the first anchor of the card that resolves to a web URL.
func (e *Extractor) cardLink(card *goquery.Selection) *url.URL {
	var link *url.URL
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		u, err := e.absolute(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return true
		}
		link = u
		return false
	})
	return link
}

func (e *Extractor) absolute(href string) (*url.URL, error) {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	return e.baseURL.ResolveReference(ref), nil
}

func (e *Extractor) photos(card *goquery.Selection, limit int) []string {
	var out []string
	seen := make(map[string]bool)

	card.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		src, _ := img.Attr("src")
		if strings.TrimSpace(src) == "" {
			src, _ = img.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if isDecorativeImage(src) || seen[src] {
			return true
		}
		seen[src] = true
		out = append(out, src)
		return true
	})

	return out
}

func isDecorativeImage(src string) bool {
	lower := strings.ToLower(src)
	path := lower
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.HasSuffix(path, ".svg") {
		return true
	}
	for _, marker := range photoExclusions {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func listingID(link *url.URL) string {
	if m := idRegex.FindStringSubmatch(link.Path); m != nil {
		return m[1]
	}
	return "h" + strconv.FormatUint(xxhash.Sum64String(link.String()), 16)
}

func firstText(card *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := cleanText(card.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return listing.Unspecified
}

func characteristics(card *goquery.Selection) string {
	var parts []string
	card.Find(charsSelector).Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseRooms(title, chars string) listing.RoomCount {
	for _, text := range []string{title, chars} {
		if m := roomsRegex.FindStringSubmatch(strings.ToLower(text)); m != nil {
			n, _ := strconv.Atoi(m[1])
			return listing.RoomCountFromNumber(n)
		}
	}
	if strings.Contains(strings.ToLower(title), "студия") || strings.Contains(strings.ToLower(chars), "студия") {
		return listing.Studio
	}
	return listing.RoomsUnknown
}

func parseFloor(chars string) string {
	lower := strings.ToLower(chars)
	if m := floorRegex.FindStringSubmatch(lower); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := floorSlashRegex.FindStringSubmatch(lower); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := floorOnlyRegex.FindStringSubmatch(lower); m != nil {
		return m[1] + "/?"
	}
	return listing.UnknownFloor
}

func parseArea(chars string) string {
	if m := areaRegex.FindStringSubmatch(chars); m != nil {
		return m[1] + " м²"
	}
	return listing.UnknownArea
}

// hasOwnerMarker looks for the owner keyword in any text node of the card.
func hasOwnerMarker(card *goquery.Selection) bool {
	for _, n := range card.Nodes {
		if containsOwnerText(n) {
			return true
		}
	}
	return false
}

func containsOwnerText(n *html.Node) bool {
	if n.Type == html.TextNode && strings.Contains(strings.ToLower(n.Data), "собственник") {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if containsOwnerText(c) {
			return true
		}
	}
	return false
}
