package perf

import (
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// bucketBounds are the upper bounds (inclusive) of each latency bucket, in
// nanoseconds, laid out on power-of-two boundaries from 1us to ~1s. The
// final bucket is a catch-all for anything larger.
var bucketBounds = [...]int64{
	1_000, 2_000, 4_000, 8_000, 16_000, 32_000, 64_000, 128_000,
	256_000, 512_000, 1_000_000, 2_000_000, 4_000_000, 8_000_000,
	16_000_000, 32_000_000, 64_000_000, 128_000_000, 256_000_000,
	512_000_000, 1_000_000_000,
}

// histogram is a fixed-bucket latency histogram backed by atomic counters.
// No histogram library is present anywhere in the retrieved example corpus
// (see DESIGN.md), so estimating P50/P95/P99 from power-of-two buckets is
// the stdlib-only fallback.
type histogram struct {
	counts [len(bucketBounds) + 1]atomic.Uint64
}

func (h *histogram) observe(d time.Duration) {
	ns := int64(d)
	idx := sort.Search(len(bucketBounds), func(i int) bool { return bucketBounds[i] >= ns })
	h.counts[idx].Add(1)
}

// percentile returns an estimate of the p-th percentile (0 < p <= 1) latency
// in nanoseconds, derived from bucket upper bounds. Returns 0 if no
// observations have been recorded.
func (h *histogram) percentile(p float64) int64 {
	var total uint64
	snap := make([]uint64, len(h.counts))
	for i := range h.counts {
		snap[i] = h.counts[i].Load()
		total += snap[i]
	}
	if total == 0 {
		return 0
	}
	target := uint64(math.Ceil(float64(total) * p))
	if target == 0 {
		target = 1
	}
	var cumulative uint64
	for i, c := range snap {
		cumulative += c
		if cumulative >= target {
			if i == len(bucketBounds) {
				return bucketBounds[len(bucketBounds)-1] * 2
			}
			return bucketBounds[i]
		}
	}
	return bucketBounds[len(bucketBounds)-1] * 2
}
