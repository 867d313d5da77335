package monitoring

import "sort"

// reservoir keeps the most recent capacity latency samples in a ring. The
// window is count-based: every new sample evicts the oldest once the ring is
// full, so memory stays constant and old outliers age out of the reported
// percentiles instead of biasing them forever.
type reservoir struct {
	samples []float64
	next    int
	filled  bool
}

func newReservoir(capacity int) *reservoir {
	if capacity <= 0 {
		capacity = 256
	}
	return &reservoir{samples: make([]float64, capacity)}
}

func (r *reservoir) add(v float64) {
	r.samples[r.next] = v
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
}

func (r *reservoir) size() int {
	if r.filled {
		return len(r.samples)
	}
	return r.next
}

func (r *reservoir) mean() float64 {
	n := r.size()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.samples[i]
	}
	return sum / float64(n)
}

// percentile returns the p-th percentile (0-100) over the current window
// using nearest-rank on a sorted copy. The copy is bounded by the ring
// capacity, so the cost is constant regardless of traffic volume.
func (r *reservoir) percentile(p float64) float64 {
	n := r.size()
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, r.samples[:n])
	sort.Float64s(sorted)

	idx := int(float64(n) * p / 100)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
