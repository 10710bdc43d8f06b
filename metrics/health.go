// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package metrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/bitcraps/bitcraps/log"
)

// Sampler periodically reads this process's CPU/memory utilization via
// gopsutil and reports it into a Registry, feeding the mesh task registry's
// health surface.
type Sampler struct {
	reg  *Registry
	proc *process.Process
}

// NewSampler opens a gopsutil handle on the current process.
func NewSampler(reg *Registry) (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{reg: reg, proc: p}, nil
}

// Run samples at interval until ctx-like stop channel closes. Errors reading
// a single sample are logged and skipped rather than treated as fatal, since
// a missed sample is not itself an operational fault.
func (s *Sampler) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		log.Warn("metrics: cpu sample failed", "err", err)
		return
	}
	memPct, err := s.proc.MemoryPercent()
	if err != nil {
		log.Warn("metrics: mem sample failed", "err", err)
		return
	}
	s.reg.SetProcessUsage(cpuPct, float64(memPct))
}
