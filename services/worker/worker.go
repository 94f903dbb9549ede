// Package worker runs the poll cycle that turns fresh listings into notifications.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sjsage522/flatwatcher/helpers"
	"sjsage522/flatwatcher/internal/filter"
	"sjsage522/flatwatcher/internal/listing"
	"sjsage522/flatwatcher/logger"
	"sjsage522/flatwatcher/services/proxy"
	"sjsage522/flatwatcher/services/publisher"
	"sjsage522/flatwatcher/services/store"
)

// MaxNovelPerCycle bounds how many new listings one subscriber is sent per cycle.
const MaxNovelPerCycle = 3

// ListingSource returns the newest listings for a filter, newest first.
type ListingSource interface {
	FetchListings(ctx context.Context, f filter.Filter) ([]listing.Listing, error)
}

// Purger drops expired cached results and reports how many went.
type Purger interface {
	PurgeExpired() int
}

// CycleReport summarizes one pass over the subscribers.
type CycleReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Subscribers int           `json:"subscribers"`
	Failed      int           `json:"failed"`
	Notified    int           `json:"notified"`
	Purged      int           `json:"purged"`
}

// Worker handles the polling and notification process
type Worker struct {
	source   ListingSource
	store    store.SubscriberStore
	notifier publisher.Notifier
	ledger   publisher.DeliveryLedger
	proxies  proxy.ProxyManager
	limiter  *rate.Limiter
	logger   helpers.LoggerInterface
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu   sync.RWMutex
	last *CycleReport
}

// NewWorker creates a new worker. notifyRate is the number of notifications
// sent per second; zero or less disables pacing.
func NewWorker(
	source ListingSource,
	subscribers store.SubscriberStore,
	notifier publisher.Notifier,
	ledger publisher.DeliveryLedger,
	errLog helpers.LoggerInterface,
	interval time.Duration,
	notifyRate float64,
) *Worker {
	limit := rate.Inf
	if notifyRate > 0 {
		limit = rate.Limit(notifyRate)
	}
	return &Worker{
		source:   source,
		store:    subscribers,
		notifier: notifier,
		ledger:   ledger,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   errLog,
		interval: interval,
		now:      time.Now,
		log:      logger.ForWorker(),
	}
}

// WithProxies has every cycle refresh the proxy ranking first.
func (w *Worker) WithProxies(pm proxy.ProxyManager) *Worker {
	w.proxies = pm
	return w
}

// Start runs cycles until ctx is done. Cycles never overlap: when a cycle
// overruns the interval the next one starts immediately.
func (w *Worker) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		report := w.RunCycle(ctx)
		elapsed := time.Since(start)
		w.logger.LogInfo("Cycle %s: %d subscribers, %d notified, %d failed in %s",
			report.ID, report.Subscribers, report.Notified, report.Failed, elapsed)

		wait := w.interval - elapsed
		if wait < 0 {
			wait = 0
		}
		if err := helpers.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle performs one pass over all active subscribers.
func (w *Worker) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{ID: uuid.NewString(), StartedAt: w.now()}
	log := w.log.WithField("cycle", report.ID)

	if w.proxies != nil {
		if err := w.proxies.UpdateProxies(ctx); err != nil {
			w.logger.LogError("ProxyRanking", err)
		}
	}

	subscribers, err := w.store.ListActiveSubscribers(ctx, report.StartedAt)
	if err != nil {
		w.logger.LogError("SubscriberStore", err)
		w.finish(&report)
		return report
	}
	report.Subscribers = len(subscribers)
	log.Debug().Int("subscribers", len(subscribers)).Msg("Cycle started")

	for _, sub := range subscribers {
		if ctx.Err() != nil {
			break
		}
		sent, err := w.processSubscriber(ctx, sub)
		report.Notified += sent
		if err != nil {
			report.Failed++
			w.logger.LogError(fmt.Sprintf("Subscriber %d", sub.ID), err)
		}
	}

	// Trim all streams after the pass
	if err := w.notifier.TrimStreams(ctx); err != nil {
		w.logger.LogError("StreamTrimming", err)
	}

	if p, ok := w.source.(Purger); ok {
		report.Purged = p.PurgeExpired()
	}

	w.finish(&report)
	log.Info().
		Int("subscribers", report.Subscribers).
		Int("notified", report.Notified).
		Int("failed", report.Failed).
		Int("purged", report.Purged).
		Dur("elapsed", report.Elapsed).
		Msg("Cycle finished")
	return report
}

func (w *Worker) finish(report *CycleReport) {
	report.Elapsed = w.now().Sub(report.StartedAt)

	w.mu.Lock()
	defer w.mu.Unlock()
	r := *report
	w.last = &r
}

// LastCycle returns the report of the most recent cycle, if any ran.
func (w *Worker) LastCycle() (CycleReport, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return CycleReport{}, false
	}
	return *w.last, true
}

// processSubscriber fetches, selects and delivers listings for one subscriber.
// A panic is turned into an error so the cycle goes on.
func (w *Worker) processSubscriber(ctx context.Context, sub store.Subscriber) (sent int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing subscriber: %v", r)
		}
	}()

	listings, err := w.source.FetchListings(ctx, sub.Filter)
	if err != nil {
		return 0, err
	}
	if len(listings) == 0 {
		return 0, nil
	}

	lastSeen, _, err := w.store.GetLastSeenID(ctx, sub.ID)
	if err != nil {
		return 0, err
	}

	for _, l := range Novel(listings, lastSeen, MaxNovelPerCycle) {
		if !filter.Matches(l, sub.Filter) {
			continue
		}

		ok, err := w.ledger.Claim(ctx, sub.ID, l.ID)
		if err != nil {
			w.logger.LogError("DeliveryLedger", err)
			continue
		}
		if !ok {
			w.log.Debug().Int64("subscriber", sub.ID).Str("listing", l.ID).Msg("Already delivered")
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			w.release(sub.ID, l.ID)
			return sent, err
		}

		if err := w.notifier.Notify(ctx, sub.ID, l); err != nil {
			w.logger.LogError(fmt.Sprintf("Notify %d", sub.ID), err)
			w.release(sub.ID, l.ID)
			continue
		}
		sent++

		if err := w.store.SetLastSeenID(ctx, sub.ID, l.ID); err != nil {
			w.logger.LogError("SubscriberStore", err)
		}
	}
	return sent, nil
}

// release drops a claim after a failed delivery so a later cycle can retry it.
func (w *Worker) release(subscriberID int64, listingID string) {
	if err := w.ledger.Release(context.Background(), subscriberID, listingID); err != nil {
		w.logger.LogError("DeliveryLedger", err)
	}
}

// Novel returns up to limit listings whose id differs from lastSeen, keeping order.
func Novel(listings []listing.Listing, lastSeen string, limit int) []listing.Listing {
	var out []listing.Listing
	for _, l := range listings {
		if len(out) >= limit {
			break
		}
		if lastSeen != "" && l.ID == lastSeen {
			continue
		}
		out = append(out, l)
	}
	return out
}
