package buffer

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/a-artmv/proxy/internal/pager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, pageSize, cacheSize, lanes int) (*Buffer, *pager.Pager) {
	t.Helper()
	waiter := pager.NewResourceWaiter(cacheSize / 5)
	p := pager.New(waiter, pageSize, cacheSize, true)
	return New(p, lanes), p
}

func drainLane(b *Buffer, idx int) []byte {
	var out []byte
	lane := b.Lane(idx)
	for {
		w, ok := lane.Peek()
		if !ok {
			break
		}
		n := w.Size()
		out = append(out, w.Data()...)
		w.AdjustPos(n)
		lane.AdvanceReader(n)
	}
	return out
}

func writeAll(b *Buffer, data []byte) {
	pos := 0
	for pos < len(data) {
		avail := b.AdvanceWriter(0)
		if avail == 0 {
			avail = b.AdvanceWriter(0)
		}
		n := len(data) - pos
		if n > avail {
			n = avail
		}
		copy(b.WriterTail(), data[pos:pos+n])
		b.AdvanceWriter(n)
		pos += n
	}
}

func TestByteExactFanOut(t *testing.T) {
	b, _ := newTestBuffer(t, 64, 64, 3)
	msg := []byte("the quick brown fox jumps over the lazy dog, many times over")
	writeAll(b, msg)

	for lane := 0; lane < 3; lane++ {
		got := drainLane(b, lane)
		assert.True(t, bytes.Equal(got, msg), "lane %d mismatch: %q", lane, got)
	}
}

func TestInterleavedReaderAdvance(t *testing.T) {
	b, _ := newTestBuffer(t, 16, 16, 2)
	msg := bytes.Repeat([]byte{'a', 'b', 'c', 'd'}, 20)
	writeAll(b, msg)

	lane0 := b.Lane(0)
	var got0 []byte
	for {
		w, ok := lane0.Peek()
		if !ok {
			break
		}
		// Consume a random prefix of what's offered, never the whole thing
		// in one go, to exercise partial consumption.
		n := 1 + rand.Intn(w.Size())
		got0 = append(got0, w.Data()[:n]...)
		w.Release()
		lane0.AdvanceReader(n)
	}
	assert.Equal(t, msg, got0)

	got1 := drainLane(b, 1)
	assert.Equal(t, msg, got1)
}

func TestNoLossOnPageBoundary(t *testing.T) {
	pageSize := 8
	b, _ := newTestBuffer(t, pageSize, 8, 1)

	first := bytes.Repeat([]byte{'x'}, pageSize) // fills the page exactly
	writeAll(b, first)

	second := []byte("more-bytes-after-the-boundary")
	writeAll(b, second)

	got := drainLane(b, 0)
	assert.Equal(t, append(append([]byte{}, first...), second...), got)
}

func TestLaneCatchesUpMidPageThenResumes(t *testing.T) {
	pageSize := 16
	b, _ := newTestBuffer(t, pageSize, 8, 1)
	lane := b.Lane(0)

	// Commit half a page.
	avail := b.AdvanceWriter(0)
	require.Equal(t, pageSize, avail)
	copy(b.WriterTail(), []byte("12345678"))
	b.AdvanceWriter(8)

	// Lane fully catches up mid-page (reader-offset == committed-size,
	// but committed-size < page size): the node pops and the lane caches
	// last_page/last_offset.
	got := drainLane(b, 0)
	assert.Equal(t, []byte("12345678"), got)
	assert.Equal(t, 0, lane.Pending())

	// Writer commits more bytes into the *same* page object.
	copy(b.WriterTail(), []byte("abcdefgh"))
	b.AdvanceWriter(8)

	got2 := drainLane(b, 0)
	assert.Equal(t, []byte("abcdefgh"), got2, "lane must resume at the cached offset, not byte 0")
}

func TestPagerConservationAcrossSlowLane(t *testing.T) {
	cacheSize := 8
	b, p := newTestBuffer(t, 32, cacheSize, 2)

	msg := bytes.Repeat([]byte{'z'}, 32*6) // six full pages
	writeAll(b, msg)

	// Lane 0 drains fully; lane 1 stays behind, holding pages outstanding.
	_ = drainLane(b, 0)

	outstanding := cacheSize - p.PagesAvailable()
	assert.Greater(t, outstanding, 0, "slow lane 1 should still hold pages")

	_ = drainLane(b, 1)
	b.Close()
	assert.Equal(t, cacheSize, p.PagesAvailable(), "all pages must return once every lane and the writer release")
}
