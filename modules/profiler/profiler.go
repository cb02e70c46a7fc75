// Package profiler writes CPU and heap profiles covering one CLI session.
package profiler

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"
)

type Profiler struct {
	cpu     *os.File
	memPath string
	started time.Time
}

// Start begins CPU profiling into cpuPath and remembers memPath for the heap
// profile written by Stop. Either path may be empty.
func Start(cpuPath, memPath string) (*Profiler, error) {
	p := &Profiler{memPath: memPath, started: time.Now()}
	if cpuPath == "" {
		return p, nil
	}

	f, err := os.Create(cpuPath)
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	p.cpu = f
	return p, nil
}

// Stop ends CPU profiling and writes the heap profile. It is safe to call
// on a nil Profiler.
func (p *Profiler) Stop() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, p.cpu.Close())
		p.cpu = nil
	}
	if p.memPath != "" {
		errs = append(errs, writeHeap(p.memPath))
		p.memPath = ""
	}
	return errors.Join(errs...)
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create memory profile: %w", err)
	}
	defer f.Close()

	runtime.GC() // up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}

type Stats struct {
	Uptime       time.Duration
	AllocatedMem uint64
	TotalAlloc   uint64
	Sys          uint64
	NumGC        uint32
}

func (p *Profiler) Stats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Stats{
		AllocatedMem: m.Alloc,
		TotalAlloc:   m.TotalAlloc,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
	}
	if p != nil {
		s.Uptime = time.Since(p.started)
	}
	return s
}
