// Package admin exposes the operator HTTP endpoints.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/geo"
	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
	"sjsage522/flatwatcher/services/proxy"
	"sjsage522/flatwatcher/services/store"
	"sjsage522/flatwatcher/services/worker"
)

const (
	dailyPreview    = 5
	testParseLimit  = 3
	maxFilterLength = 16 << 10
	maxGrantDays    = 3650
	topProxies      = 3
)

// Source is the listing retrieval the admin endpoints drive.
type Source interface {
	FetchListings(ctx context.Context, f filter.Filter) ([]listing.Listing, error)
	Sweep(ctx context.Context, stations []string, ownerOnly bool) ([]listing.Listing, error)
	Mode() string
	CachedQueries() int
}

// ProxyStats reports the proxy pool state.
type ProxyStats interface {
	Stats() map[string]interface{}
	GetTopProxies(n int) []proxy.ProxyInfo
}

// CycleReporter reports the last poll cycle.
type CycleReporter interface {
	LastCycle() (worker.CycleReport, bool)
}

// Server holds the admin handlers.
type Server struct {
	source  Source
	store   store.AccountStore
	catalog *geo.Catalog
	token   string
	proxies ProxyStats
	cycles  CycleReporter
	log     *logger.Logger
	now     func() time.Time
}

// NewServer creates the admin server. An empty token disables authentication.
func NewServer(source Source, accounts store.AccountStore, catalog *geo.Catalog, token string) *Server {
	return &Server{
		source:  source,
		store:   accounts,
		catalog: catalog,
		token:   token,
		log:     logger.ForAdmin(),
		now:     time.Now,
	}
}

// WithProxies attaches proxy pool statistics to /stats.
func (s *Server) WithProxies(p ProxyStats) *Server {
	s.proxies = p
	return s
}

// WithCycles attaches the poll cycle report to /stats.
func (s *Server) WithCycles(c CycleReporter) *Server {
	s.cycles = c
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/daily", s.handleDaily).Methods("GET")
	api.HandleFunc("/testparse", s.handleTestParse).Methods("POST")
	api.HandleFunc("/cache", s.handleCache).Methods("GET")
	api.HandleFunc("/catalog", s.handleCatalog).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/subscribers/{id:[0-9]+}/filter", s.handleSaveFilter).Methods("PUT")
	api.HandleFunc("/subscribers/{id:[0-9]+}/grant", s.handleGrant).Methods("POST")
	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info().Str("addr", addr).Msg("Admin server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.source.Mode()})
}

type dailyResponse struct {
	Stations []string          `json:"stations"`
	Total    int               `json:"total"`
	Listings []listing.Listing `json:"listings"`
}

// handleDaily sweeps the newest listings near the requested stations.
// Stations come as repeated or comma separated station parameters.
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	var stations []string
	for _, raw := range r.URL.Query()["station"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				stations = append(stations, st)
			}
		}
	}
	if len(stations) == 0 {
		writeError(w, http.StatusBadRequest, "at least one station is required, e.g. /daily?station=Арбатская")
		return
	}
	ownerOnly, _ := strconv.ParseBool(r.URL.Query().Get("owner"))

	listings, err := s.source.Sweep(r.Context(), stations, ownerOnly)
	if err != nil {
		s.log.Error().Err(err).Strs("stations", stations).Msg("Sweep failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := dailyResponse{Stations: stations, Total: len(listings), Listings: listings}
	if len(resp.Listings) > dailyPreview {
		resp.Listings = resp.Listings[:dailyPreview]
	}
	if resp.Listings == nil {
		resp.Listings = []listing.Listing{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type parseResult struct {
	SubscriberID int64            `json:"subscriber_id"`
	Filter       string           `json:"filter"`
	Listings     int              `json:"listings"`
	Sample       *listing.Listing `json:"sample,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type testParseResponse struct {
	ActiveSubscribers int           `json:"active_subscribers"`
	Results           []parseResult `json:"results"`
}

// handleTestParse runs the retrieval for the first few active subscribers.
func (s *Server) handleTestParse(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListActiveSubscribers(r.Context(), s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := testParseResponse{ActiveSubscribers: len(subs), Results: []parseResult{}}
	if len(subs) > testParseLimit {
		subs = subs[:testParseLimit]
	}
	for _, sub := range subs {
		res := parseResult{SubscriberID: sub.ID, Filter: sub.Filter.Summary()}
		listings, err := s.source.FetchListings(r.Context(), sub.Filter)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Listings = len(listings)
			if len(listings) > 0 {
				sample := listings[0]
				res.Sample = &sample
			}
		}
		resp.Results = append(resp.Results, res)
	}

	s.log.Info().Int("subscribers", len(resp.Results)).Msg("Test parse finished")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"entries": s.source.CachedQueries()})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

type statsResponse struct {
	Subscribers store.Stats            `json:"subscribers"`
	Mode        string                 `json:"mode"`
	Cached      int                    `json:"cached_queries"`
	Proxies     map[string]interface{} `json:"proxies,omitempty"`
	TopProxies  []proxy.ProxyInfo      `json:"top_proxies,omitempty"`
	LastCycle   *worker.CycleReport    `json:"last_cycle,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := statsResponse{
		Subscribers: stats,
		Mode:        s.source.Mode(),
		Cached:      s.source.CachedQueries(),
	}
	if s.proxies != nil {
		resp.Proxies = s.proxies.Stats()
		resp.TopProxies = s.proxies.GetTopProxies(topProxies)
	}
	if s.cycles != nil {
		if report, ok := s.cycles.LastCycle(); ok {
			resp.LastCycle = &report
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSaveFilter stores a filter document for a subscriber.
func (s *Server) handleSaveFilter(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFilterLength))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := filter.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, code := range f.Districts {
		if _, ok := s.catalog.DistrictByCode(code); !ok {
			writeError(w, http.StatusBadRequest, "unknown district "+code)
			return
		}
	}

	if err := s.store.SaveFilter(r.Context(), id, f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriber_id": id, "filter": f.Summary()})
}

// handleGrant extends a subscription by the given number of days.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}

	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 || days > maxGrantDays {
		writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(maxGrantDays))
		return
	}
	plan := r.URL.Query().Get("plan")

	until := s.now().Add(time.Duration(days) * 24 * time.Hour)
	if err := s.store.ActivateSubscription(r.Context(), id, until, plan); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Int64("subscriber", id).Int("days", days).Msg("Subscription granted")
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriber_id": id, "subscribed_until": until.Unix()})
}

func subscriberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subscriber id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
