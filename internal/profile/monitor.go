// Package profile 进程资源采样，供性能剖析 CLI 输出报告。
package profile

import (
	"runtime"
	"sync"
	"time"
)

// Sample 单次采样
type Sample struct {
	At         time.Time
	HeapAlloc  uint64 // 字节
	Sys        uint64 // 字节
	NumGC      uint32
	Goroutines int
}

// Monitor 后台周期采样器。Start 后按 interval 采样，Stop 幂等。
type Monitor struct {
	interval time.Duration

	mu      sync.Mutex
	samples []Sample

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor 创建采样器，interval<=0 时默认 1s
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动后台采样
func (m *Monitor) Start() {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.record()
		for {
			select {
			case <-ticker.C:
				m.record()
			case <-m.stopCh:
				m.record()
				return
			}
		}
	}()
}

// Stop 停止采样并等待后台退出
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Monitor) record() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	m.samples = append(m.samples, Sample{
		At:         time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	})
	m.mu.Unlock()
}

// Samples 返回采样副本
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Report 采样汇总
type Report struct {
	Count        int
	HeapMinBytes uint64
	HeapAvgBytes uint64
	HeapMaxBytes uint64
	GoroutineMax int
	GCCycles     uint32
	Duration     time.Duration
}

// Report 汇总全部采样
func (m *Monitor) Report() Report {
	samples := m.Samples()
	if len(samples) == 0 {
		return Report{}
	}

	r := Report{
		Count:        len(samples),
		HeapMinBytes: samples[0].HeapAlloc,
		Duration:     samples[len(samples)-1].At.Sub(samples[0].At),
	}
	var total uint64
	for _, s := range samples {
		total += s.HeapAlloc
		if s.HeapAlloc < r.HeapMinBytes {
			r.HeapMinBytes = s.HeapAlloc
		}
		if s.HeapAlloc > r.HeapMaxBytes {
			r.HeapMaxBytes = s.HeapAlloc
		}
		if s.Goroutines > r.GoroutineMax {
			r.GoroutineMax = s.Goroutines
		}
	}
	r.HeapAvgBytes = total / uint64(len(samples))
	r.GCCycles = samples[len(samples)-1].NumGC - samples[0].NumGC
	return r
}
