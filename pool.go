package sanityml

import (
	"context"
	"runtime"
	"slices"
	"sync"
)

// Scan processes artifacts concurrently and returns one ordered report.
// Artifacts are independent, immutable computations, so the pool needs no
// locking beyond the admission gate: each worker owns exactly one artifact
// end-to-end and writes into its own result slot. Findings are merged and
// stably ordered only after every worker finishes, so no finding is lost or
// duplicated across workers.
func (s *Scanner) Scan(ctx context.Context, artifacts []Artifact) []Finding {
	jobs := s.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	g := newGate(jobs)
	results := make([][]Finding, len(artifacts))

	var wg sync.WaitGroup
	for i, a := range artifacts {
		wg.Add(1)
		go func(i int, a Artifact) {
			defer wg.Done()

			g.enter()
			defer g.exit()

			s.opts.Events.ArtifactScanning(a.Path, a.Class)
			results[i] = s.ScanArtifact(ctx, a)
			s.opts.Events.ArtifactScanned(a.Path, a.Class, len(results[i]))
		}(i, a)
	}
	wg.Wait()

	findings := slices.Concat(results...)
	sortFindings(findings)

	s.opts.Events.ScanDone(len(artifacts), len(findings))
	return findings
}

// gate is a counting semaphore bounding worker concurrency.
type gate struct {
	m        sync.Mutex
	cond     *sync.Cond
	capacity int
}

func newGate(capacity int) *gate {
	g := &gate{capacity: capacity}
	g.cond = sync.NewCond(&g.m)
	return g
}

func (g *gate) enter() {
	g.m.Lock()
	defer g.m.Unlock()

	for g.capacity == 0 {
		g.cond.Wait()
	}
	g.capacity--
}

func (g *gate) exit() {
	g.m.Lock()
	defer g.m.Unlock()

	g.capacity++
	g.cond.Signal()
}
