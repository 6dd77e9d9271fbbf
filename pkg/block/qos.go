// Package block implements the block-volume write cache, durable journal,
// flush pipeline, and per-volume QoS enforcement that sit in front of the
// storage daemon's erasure-coded object backing (C4).
package block

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Priority is the I/O scheduling priority recorded against a volume; it is
// informational today (the flush pipeline treats every volume the same)
// but is threaded through so a future scheduler can act on it.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// VolumeQosConfig is the per-volume rate-limit contract set by
// UpdateVolumeQos.
type VolumeQosConfig struct {
	MaxIOPS         uint64
	MinIOPS         uint64
	MaxBandwidthBps uint64
	BurstIOPS       uint64
	BurstSeconds    uint32
	Priority        Priority
	TargetLatencyUs uint64
}

func (c VolumeQosConfig) HasLimits() bool    { return c.MaxIOPS > 0 || c.MaxBandwidthBps > 0 }
func (c VolumeQosConfig) HasGuarantee() bool { return c.MinIOPS > 0 }

func DefaultVolumeQosConfig() VolumeQosConfig {
	return VolumeQosConfig{Priority: PriorityNormal, TargetLatencyUs: 1000}
}

// VolumeRateLimiter enforces a volume's IOPS and bandwidth caps with
// golang.org/x/time/rate token buckets (one for operation counts, one for
// bytes), and tracks per-volume I/O statistics for observability.
type VolumeRateLimiter struct {
	volumeId string

	mu        sync.RWMutex
	config    VolumeQosConfig
	iops      *rate.Limiter
	bandwidth *rate.Limiter

	stats *IoStats
}

func NewVolumeRateLimiter(volumeId string, config VolumeQosConfig) *VolumeRateLimiter {
	l := &VolumeRateLimiter{volumeId: volumeId, stats: NewIoStats()}
	l.applyConfig(config)
	return l
}

func (l *VolumeRateLimiter) applyConfig(config VolumeQosConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config

	if config.MaxIOPS > 0 {
		burst := config.BurstIOPS
		if burst == 0 {
			burst = config.MaxIOPS
		}
		l.iops = rate.NewLimiter(rate.Limit(config.MaxIOPS), int(burst))
	} else {
		l.iops = nil
	}

	if config.MaxBandwidthBps > 0 {
		l.bandwidth = rate.NewLimiter(rate.Limit(config.MaxBandwidthBps), int(config.MaxBandwidthBps))
	} else {
		l.bandwidth = nil
	}
}

// TryAcquire reports whether an I/O of ioSizeBytes may proceed right now,
// consuming tokens from both buckets on success and recording a throttle on
// failure.
func (l *VolumeRateLimiter) TryAcquire(ioSizeBytes int) bool {
	l.mu.RLock()
	iops, bandwidth := l.iops, l.bandwidth
	l.mu.RUnlock()

	if iops != nil && !iops.Allow() {
		l.stats.RecordThrottled()
		return false
	}
	if bandwidth != nil && !bandwidth.AllowN(time.Now(), ioSizeBytes) {
		l.stats.RecordThrottled()
		return false
	}
	return true
}

func (l *VolumeRateLimiter) RecordRead(bytes int, latency time.Duration) {
	l.stats.RecordRead(bytes, latency)
}

func (l *VolumeRateLimiter) RecordWrite(bytes int, latency time.Duration) {
	l.stats.RecordWrite(bytes, latency)
}

func (l *VolumeRateLimiter) Stats() *IoStats { return l.stats }

func (l *VolumeRateLimiter) Config() VolumeQosConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

func (l *VolumeRateLimiter) UpdateConfig(config VolumeQosConfig) {
	l.applyConfig(config)
}

func (l *VolumeRateLimiter) VolumeId() string { return l.volumeId }

// IopsUtilization reports the fraction of the volume's configured IOPS cap
// consumed over the last second, 0 when unlimited.
func (l *VolumeRateLimiter) IopsUtilization() float64 {
	l.mu.RLock()
	maxIOPS := l.config.MaxIOPS
	l.mu.RUnlock()
	if maxIOPS == 0 {
		return 0
	}
	current := float64(l.stats.CurrentIOPS())
	util := current / float64(maxIOPS)
	if util > 1 {
		util = 1
	}
	return util
}

// IoStats tracks per-volume read/write counters and a latency histogram.
type IoStats struct {
	readOps     atomic.Uint64
	writeOps    atomic.Uint64
	readBytes   atomic.Uint64
	writeBytes  atomic.Uint64
	throttled   atomic.Uint64
	windowStart atomic.Int64
	windowOps   atomic.Uint64
	latency     *LatencyHistogram
}

func NewIoStats() *IoStats {
	s := &IoStats{latency: NewLatencyHistogram()}
	s.windowStart.Store(time.Now().UnixNano())
	return s
}

func (s *IoStats) RecordRead(bytes int, latency time.Duration) {
	s.readOps.Add(1)
	s.readBytes.Add(uint64(bytes))
	s.latency.Record(uint64(latency.Microseconds()))
	s.bumpWindow()
}

func (s *IoStats) RecordWrite(bytes int, latency time.Duration) {
	s.writeOps.Add(1)
	s.writeBytes.Add(uint64(bytes))
	s.latency.Record(uint64(latency.Microseconds()))
	s.bumpWindow()
}

func (s *IoStats) RecordThrottled() { s.throttled.Add(1) }

func (s *IoStats) bumpWindow() {
	now := time.Now().UnixNano()
	start := s.windowStart.Load()
	if time.Duration(now-start) > time.Second {
		s.windowStart.Store(now)
		s.windowOps.Store(1)
		return
	}
	s.windowOps.Add(1)
}

// CurrentIOPS approximates the operation rate over the trailing ~1s window.
func (s *IoStats) CurrentIOPS() uint64 { return s.windowOps.Load() }

func (s *IoStats) ReadOps() uint64    { return s.readOps.Load() }
func (s *IoStats) WriteOps() uint64   { return s.writeOps.Load() }
func (s *IoStats) ReadBytes() uint64  { return s.readBytes.Load() }
func (s *IoStats) WriteBytes() uint64 { return s.writeBytes.Load() }
func (s *IoStats) Throttled() uint64  { return s.throttled.Load() }
func (s *IoStats) Latency() *LatencyHistogram { return s.latency }

// latencyBucketBoundariesUs are the upper bounds (microseconds) of 16
// logarithmic latency buckets, widening from 10us to 500ms+.
var latencyBucketBoundariesUs = [16]uint64{
	10, 20, 50, 100, 200, 500,
	1_000, 2_000, 5_000, 10_000, 20_000, 50_000,
	100_000, 200_000, 500_000, ^uint64(0),
}

// LatencyHistogram buckets latency samples logarithmically for percentile
// estimation without storing every sample.
type LatencyHistogram struct {
	buckets [16]atomic.Uint64
	count   atomic.Uint64
	sum     atomic.Uint64
	min     atomic.Uint64
	max     atomic.Uint64
}

func NewLatencyHistogram() *LatencyHistogram {
	h := &LatencyHistogram{}
	h.min.Store(^uint64(0))
	return h
}

func (h *LatencyHistogram) Record(latencyUs uint64) {
	idx := 15
	for i, boundary := range latencyBucketBoundariesUs {
		if latencyUs < boundary {
			idx = i
			break
		}
	}
	h.buckets[idx].Add(1)
	h.count.Add(1)
	h.sum.Add(latencyUs)

	for {
		cur := h.min.Load()
		if latencyUs >= cur {
			break
		}
		if h.min.CompareAndSwap(cur, latencyUs) {
			break
		}
	}
	for {
		cur := h.max.Load()
		if latencyUs <= cur {
			break
		}
		if h.max.CompareAndSwap(cur, latencyUs) {
			break
		}
	}
}

func (h *LatencyHistogram) Count() uint64 { return h.count.Load() }
func (h *LatencyHistogram) Sum() uint64   { return h.sum.Load() }
func (h *LatencyHistogram) Min() uint64 {
	if v := h.min.Load(); v != ^uint64(0) {
		return v
	}
	return 0
}
func (h *LatencyHistogram) Max() uint64 { return h.max.Load() }

func (h *LatencyHistogram) Mean() float64 {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return float64(h.sum.Load()) / float64(count)
}

// QosManager owns every attached volume's rate limiter, keyed by volume ID.
type QosManager struct {
	mu      sync.RWMutex
	volumes map[string]*VolumeRateLimiter
}

func NewQosManager() *QosManager {
	return &QosManager{volumes: make(map[string]*VolumeRateLimiter)}
}

// Attach registers (or replaces) a volume's QoS configuration.
func (m *QosManager) Attach(volumeId string, config VolumeQosConfig) *VolumeRateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.volumes[volumeId]; ok {
		existing.UpdateConfig(config)
		return existing
	}
	limiter := NewVolumeRateLimiter(volumeId, config)
	m.volumes[volumeId] = limiter
	return limiter
}

func (m *QosManager) Detach(volumeId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.volumes, volumeId)
}

func (m *QosManager) Get(volumeId string) (*VolumeRateLimiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.volumes[volumeId]
	return l, ok
}

// TryAcquire checks the named volume's rate limiter, if any is attached;
// volumes with no QoS configuration are unthrottled.
func (m *QosManager) TryAcquire(volumeId string, ioSizeBytes int) bool {
	l, ok := m.Get(volumeId)
	if !ok {
		return true
	}
	return l.TryAcquire(ioSizeBytes)
}
