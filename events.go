package sanityml

// Events allows callers to observe scan progress. Implementations must be
// safe for concurrent use: artifact callbacks arrive from worker goroutines.
type Events interface {
	// ArtifactScanning is called when a worker picks up an artifact.
	ArtifactScanning(path string, class Class)
	// ArtifactScanned is called when an artifact reaches its terminal state,
	// with the number of findings it produced.
	ArtifactScanned(path string, class Class, findings int)
	// ScanDone is called once after all artifacts have been reported.
	ScanDone(artifacts, findings int)
}

type discardEventsT int

// DiscardEvents is an implementation of Events that discards all events.
var DiscardEvents = discardEventsT(0)

func (discardEventsT) ArtifactScanning(path string, class Class)              {}
func (discardEventsT) ArtifactScanned(path string, class Class, findings int) {}
func (discardEventsT) ScanDone(artifacts, findings int)                       {}
