package gateway

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/hnarchiver/internal/metrics"
)

// hostSlots hands out at most limit concurrent slots per host.
type hostSlots struct {
	limit int64

	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	inFlight map[string]int
	peak     int
}

func newHostSlots(limit int) *hostSlots {
	return &hostSlots{
		limit:    int64(limit),
		sems:     make(map[string]*semaphore.Weighted),
		inFlight: make(map[string]int),
	}
}

// acquire blocks until host has a free slot. The returned func releases it.
func (h *hostSlots) acquire(ctx context.Context, host string) (func(), error) {
	sem := h.semaphore(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection slot for %s: %w", host, err)
	}

	h.mu.Lock()
	h.inFlight[host]++
	if n := h.inFlight[host]; n > h.peak {
		h.peak = n
	}
	h.mu.Unlock()
	metrics.IncInFlight()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.inFlight[host]--
			h.mu.Unlock()
			metrics.DecInFlight()
			sem.Release(1)
		})
	}, nil
}

func (h *hostSlots) semaphore(host string) *semaphore.Weighted {
	h.mu.Lock()
	defer h.mu.Unlock()
	sem, ok := h.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(h.limit)
		h.sems[host] = sem
	}
	return sem
}

func (h *hostSlots) current(host string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inFlight[host]
}

func (h *hostSlots) peakInFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}
