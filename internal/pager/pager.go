// Package pager implements the fixed-size page pool that backs the
// transfer conveyor's buffers: a free-list cache with a monotonic release
// counter, handing out reference-counted pages to writers and returning
// them automatically when the last owner drops its hold.
package pager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// Defaults mirror the source proxy's memory_pager_t configuration.
const (
	DefaultPageSize  = 4096
	DefaultCacheSize = 8192
)

// Page is an owned, reference-counted buffer vended by a Pager. It is held
// concurrently by a writer cursor, lane node entries, and any outstanding
// PageWrapper; it returns to the pager's free list exactly when the last
// owner calls Release.
type Page struct {
	buf   []byte
	pager *Pager
	refs  atomic.Int32
}

// Data returns the page's backing bytes. Callers must not retain the slice
// past their own Release.
func (p *Page) Data() []byte { return p.buf }

// Size returns the page's capacity in bytes (the pager's page size).
func (p *Page) Size() int { return len(p.buf) }

// Retain adds an owner to the page (e.g. a lane node taking a reference to
// a page the writer is also still holding) and returns the page for
// chaining.
func (p *Page) Retain() *Page {
	p.refs.Inc()
	return p
}

// Release drops one owner's hold. When the last owner releases, the page
// is returned to its pager's free list.
func (p *Page) Release() {
	if p.refs.Dec() == 0 {
		p.pager.release(p)
	}
}

var (
	metricPagesAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Subsystem: "pager",
		Name:      "pages_available",
		Help:      "Pages currently sitting in the pager's free list.",
	})

	metricReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Subsystem: "pager",
		Name:      "releases_total",
		Help:      "Total pages returned to the pager's free list.",
	})
)

// Pager owns the free list (capacity CacheSize) and a monotonic release
// counter used for observability.
type Pager struct {
	pageSize  int
	cacheSize int
	prefill   bool
	waiter    *ResourceWaiter

	mu   sync.Mutex
	free [][]byte

	releaseCounter atomic.Uint64
}

// New builds a Pager wired to waiter's resource counter. If prefill is
// true the free list is populated with cacheSize pages up front, matching
// the source implementation's prefill_cache_ option.
func New(waiter *ResourceWaiter, pageSize, cacheSize int, prefill bool) *Pager {
	p := &Pager{
		pageSize:  pageSize,
		cacheSize: cacheSize,
		prefill:   prefill,
		waiter:    waiter,
	}
	if prefill {
		p.fill()
	}
	waiter.seed(int32(len(p.free)))
	metricPagesAvailable.Set(float64(len(p.free)))
	return p
}

func (p *Pager) fill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.cacheSize; i++ {
		p.free = append(p.free, make([]byte, p.pageSize))
	}
}

// Take acquires one page from the free list, allocating a fresh buffer if
// the list is empty, and decrements the resource counter by one.
func (p *Pager) Take() *Page {
	p.mu.Lock()
	var buf []byte
	if n := len(p.free); n > 0 {
		buf = p.free[n-1]
		p.free = p.free[:n-1]
	}
	avail := len(p.free)
	p.mu.Unlock()

	if buf == nil {
		buf = make([]byte, p.pageSize)
	}
	p.waiter.AdjustResource(-1)
	metricPagesAvailable.Set(float64(avail))

	pg := &Page{buf: buf, pager: p}
	pg.refs.Store(1)
	return pg
}

func (p *Pager) release(pg *Page) {
	p.mu.Lock()
	if len(p.free) < p.cacheSize {
		p.free = append(p.free, pg.buf)
	}
	avail := len(p.free)
	p.mu.Unlock()

	p.waiter.AdjustResource(1)
	p.releaseCounter.Add(1)
	metricReleasesTotal.Inc()
	metricPagesAvailable.Set(float64(avail))
}

// PageSize returns the fixed size of every page this pager vends.
func (p *Pager) PageSize() int { return p.pageSize }

// CacheSize returns the configured free-list capacity.
func (p *Pager) CacheSize() int { return p.cacheSize }

// PagesAvailable returns the current free-list length.
func (p *Pager) PagesAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// ReleaseCounter returns the total number of releases observed since the
// last Reset.
func (p *Pager) ReleaseCounter() uint64 { return p.releaseCounter.Load() }

// Waiter returns the resource waiter this pager feeds.
func (p *Pager) Waiter() *ResourceWaiter { return p.waiter }

// Reset purges every tracked free page and, if the pager was configured to
// prefill, refills the cache. It does not affect pages still outstanding
// with writers, lanes, or wrappers: those continue to release normally and
// are simply dropped rather than re-added once the free list already has
// cacheSize entries.
func (p *Pager) Reset() {
	p.mu.Lock()
	p.free = p.free[:0]
	p.mu.Unlock()
	p.releaseCounter.Store(0)
	if p.prefill {
		p.fill()
	}
	p.waiter.seed(int32(p.PagesAvailable()))
	metricPagesAvailable.Set(float64(p.PagesAvailable()))
}
