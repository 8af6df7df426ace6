package sanityml

import "sync/atomic"

// countingEvents counts callbacks; it must tolerate concurrent workers.
type countingEvents struct {
	scanning atomic.Int32
	scanned  atomic.Int32
	done     atomic.Int32
}

func (e *countingEvents) ArtifactScanning(path string, class Class) {
	e.scanning.Add(1)
}

func (e *countingEvents) ArtifactScanned(path string, class Class, findings int) {
	e.scanned.Add(1)
}

func (e *countingEvents) ScanDone(artifacts, findings int) {
	e.done.Add(1)
}
