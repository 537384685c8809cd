package memory

import (
	"sync/atomic"
	"time"
)

// Metrics collects engine counters. All methods are safe on a nil receiver
// so components can run unmetered in tests.
type Metrics struct {
	extractions        atomic.Int64
	extractionNanos    atomic.Int64
	candidatesProduced atomic.Int64
	candidatesAccepted atomic.Int64

	retrievals     atomic.Int64
	retrievalNanos atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Extractions          int64         `json:"extractions"`
	AvgExtractionLatency time.Duration `json:"avg_extraction_latency_ns"`
	CandidatesProduced   int64         `json:"candidates_produced"`
	CandidatesAccepted   int64         `json:"candidates_accepted"`
	AcceptanceRatio      float64       `json:"acceptance_ratio"`

	Retrievals          int64         `json:"retrievals"`
	AvgRetrievalLatency time.Duration `json:"avg_retrieval_latency_ns"`

	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) ObserveExtraction(d time.Duration, produced, accepted int) {
	if m == nil {
		return
	}
	m.extractions.Add(1)
	m.extractionNanos.Add(int64(d))
	m.candidatesProduced.Add(int64(produced))
	m.candidatesAccepted.Add(int64(accepted))
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.Add(1)
	m.retrievalNanos.Add(int64(d))
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snap := MetricsSnapshot{
		Extractions:        m.extractions.Load(),
		CandidatesProduced: m.candidatesProduced.Load(),
		CandidatesAccepted: m.candidatesAccepted.Load(),
		Retrievals:         m.retrievals.Load(),
		CacheHits:          m.cacheHits.Load(),
		CacheMisses:        m.cacheMisses.Load(),
	}
	if snap.Extractions > 0 {
		snap.AvgExtractionLatency = time.Duration(m.extractionNanos.Load() / snap.Extractions)
	}
	if snap.Retrievals > 0 {
		snap.AvgRetrievalLatency = time.Duration(m.retrievalNanos.Load() / snap.Retrievals)
	}
	if snap.CandidatesProduced > 0 {
		snap.AcceptanceRatio = float64(snap.CandidatesAccepted) / float64(snap.CandidatesProduced)
	}
	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.CacheHitRatio = float64(snap.CacheHits) / float64(total)
	}
	return snap
}
