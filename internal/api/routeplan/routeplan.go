// Package routeplan builds the "plan route" affordance between two
// consecutive itinerary stops. Google Maps URLs pasted by the user are the
// only location source, so the package scrapes them heuristically for
// coordinates or a place name; the matching rules live behind the Resolver
// interface so they can be replaced with a real geocoding call later.
package routeplan

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/wanderday/trip-itinerary-api/internal/models"
)

// DefaultRegion anchors name-only searches to the trip's locale. Bare place
// names ("Sushiro") routinely geocode to the wrong country without it.
const DefaultRegion = "Nagoya"

const directionsBaseURL = "https://www.google.com/maps/dir/"

var (
	// Place-detail URLs embed a dual-precision marker: !3d<lat>!4d<lng>.
	coordMarkerRe = regexp.MustCompile(`!3d(-?\d+(\.\d+)?)!4d(-?\d+(\.\d+)?)`)
	// Pin-drop URLs carry an @lat,lng path segment.
	atCoordRe = regexp.MustCompile(`@(-?\d+(\.\d+)?),(-?\d+(\.\d+)?)`)
	// Place-detail URLs name the place in the /maps/place/<name> segment.
	placeSegmentRe = regexp.MustCompile(`/maps/place/([^/|?]+)`)
	// A maps link only counts when it is http(s) with a non-whitespace body.
	validMapsURLRe = regexp.MustCompile(`(?i)^https?://\S+$`)
)

// HasMapsURL reports whether the item carries a validly-formed maps link.
// This gates the route affordance entirely: without links on both endpoints
// no route is offered, fallbacks notwithstanding.
func HasMapsURL(it models.ItineraryItem) bool {
	return validMapsURLRe.MatchString(strings.TrimSpace(it.MapsURL))
}

// ExtractCoordinates recovers a "lat,lng" pair from a maps URL. The
// !3d!4d marker takes precedence over the @lat,lng segment when both are
// present, since it pins the place itself rather than the viewport.
func ExtractCoordinates(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	if m := coordMarkerRe.FindStringSubmatch(rawURL); m != nil {
		return m[1] + "," + m[3], true
	}
	if m := atCoordRe.FindStringSubmatch(rawURL); m != nil {
		return m[1] + "," + m[3], true
	}
	return "", false
}

// ExtractPlaceName recovers a human-readable place name from a maps URL:
// the /maps/place/<name> path segment first, then a q= query parameter.
// Parsing failures are swallowed; the caller only ever sees not-found.
func ExtractPlaceName(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	if m := placeSegmentRe.FindStringSubmatch(rawURL); m != nil {
		return decodeSegment(m[1]), true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if q := parsed.Query().Get("q"); q != "" {
		return q, true
	}
	return "", false
}

func decodeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "+", " ")
	decoded, err := url.QueryUnescape(seg)
	if err != nil {
		// Bad percent escapes: keep the raw segment rather than failing.
		return seg
	}
	return decoded
}

// PlaceReference is the resolved location of a maps URL: precise
// coordinates when available, otherwise a place name, otherwise nothing.
type PlaceReference struct {
	Coordinates string
	Name        string
}

// IsZero reports whether nothing could be resolved from the URL.
func (r PlaceReference) IsZero() bool {
	return r.Coordinates == "" && r.Name == ""
}

// Resolver turns a maps URL into a PlaceReference.
type Resolver interface {
	ResolveReference(rawURL string) PlaceReference
}

var _ Resolver = (*HeuristicResolver)(nil)

// HeuristicResolver resolves references by URL scraping, memoizing results:
// maps URLs are immutable strings and the same adjacent pairs are resolved
// on every render of a day.
type HeuristicResolver struct {
	cache *cache.Cache
}

func NewHeuristicResolver() *HeuristicResolver {
	return &HeuristicResolver{
		cache: cache.New(30*time.Minute, 10*time.Minute),
	}
}

func (r *HeuristicResolver) ResolveReference(rawURL string) PlaceReference {
	if rawURL == "" {
		return PlaceReference{}
	}
	if hit, ok := r.cache.Get(rawURL); ok {
		return hit.(PlaceReference)
	}

	var ref PlaceReference
	if coords, ok := ExtractCoordinates(rawURL); ok {
		ref.Coordinates = coords
	} else if name, ok := ExtractPlaceName(rawURL); ok {
		ref.Name = name
	}

	r.cache.Set(rawURL, ref, cache.DefaultExpiration)
	return ref
}

// Builder constructs directions queries between two stops.
type Builder struct {
	resolver Resolver
	region   string
}

// NewBuilder returns a Builder anchored to the given region; empty region
// falls back to DefaultRegion.
func NewBuilder(resolver Resolver, region string) *Builder {
	if region == "" {
		region = DefaultRegion
	}
	return &Builder{resolver: resolver, region: region}
}

// CanLink reports whether a route affordance is offered between two stops.
// Both endpoints must carry a valid maps link; this precondition supersedes
// the title fallback inside BuildRouteQuery.
func (b *Builder) CanLink(from, to models.ItineraryItem) bool {
	return HasMapsURL(from) && HasMapsURL(to)
}

// BuildRouteQuery returns a Google Maps directions URL from one stop to the
// next, or false when the affordance is not offered. Endpoint resolution
// priority: extracted coordinates, extracted place name, then
// "<title>, <region>" so ambiguous names stay anchored to the trip locale.
// Travel mode is fixed to transit.
func (b *Builder) BuildRouteQuery(from, to models.ItineraryItem) (string, bool) {
	if !b.CanLink(from, to) {
		return "", false
	}

	q := url.Values{}
	q.Set("api", "1")
	q.Set("origin", b.endpoint(from))
	q.Set("destination", b.endpoint(to))
	q.Set("travelmode", "transit")
	return directionsBaseURL + "?" + q.Encode(), true
}

func (b *Builder) endpoint(it models.ItineraryItem) string {
	ref := b.resolver.ResolveReference(it.MapsURL)
	switch {
	case ref.Coordinates != "":
		return ref.Coordinates
	case ref.Name != "":
		return ref.Name
	default:
		return it.Title + ", " + b.region
	}
}
