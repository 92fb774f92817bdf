// Package buffer implements the per-direction data structure fanning a
// single writer's byte stream out to K independently-paced lanes over
// shared reference-counted pages.
package buffer

import "github.com/a-artmv/proxy/internal/pager"

// PageWrapper is the unit handed across the boundary to a lane's consumer
// (sender, logger, or the frame parser): a page, an offset, and the
// remaining readable size, holding its own share of the page's reference
// count independent of the lane node that produced it.
type PageWrapper struct {
	page      *pager.Page
	offset    int
	remaining int
}

func newPageWrapper(p *pager.Page, offset, size int) *PageWrapper {
	return &PageWrapper{page: p, offset: offset, remaining: size}
}

// Data returns the currently-unread bytes this wrapper covers.
func (w *PageWrapper) Data() []byte {
	if w.page == nil {
		return nil
	}
	return w.page.Data()[w.offset : w.offset+w.remaining]
}

// Size returns the number of unread bytes remaining in this wrapper.
func (w *PageWrapper) Size() int { return w.remaining }

// AdjustPos advances the wrapper's position by n bytes. When the
// remaining size reaches zero the wrapper drops its page reference.
func (w *PageWrapper) AdjustPos(n int) {
	if w.page == nil {
		return
	}
	w.offset += n
	w.remaining -= n
	if w.remaining <= 0 {
		w.page.Release()
		w.page = nil
		w.remaining = 0
	}
}

// Release drops the wrapper's page reference immediately, regardless of
// remaining size. Safe to call more than once.
func (w *PageWrapper) Release() {
	if w.page != nil {
		w.page.Release()
		w.page = nil
		w.remaining = 0
	}
}
