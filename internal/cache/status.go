package cache

// status is the closed discriminated union of a cache entry's five
// possible states. Every transition lives in entry.go as a type switch
// over status; modeling it as an interface implemented only by pointers
// declared in this file keeps that switch exhaustive by inspection, a
// tagged sum rather than an inheritance hierarchy.
type status interface {
	isStatus()
}

// statusDownloading: initial population in progress. truncateTo mirrors
// Option<u64>; nil means no pending truncate.
type statusDownloading struct {
	truncateTo *int64
}

// statusReady: local content matches the last committed remote revision.
type statusReady struct{}

// statusDirty: local content diverges from remote. launched records
// whether an upload goroutine has already been spawned for this epoch, so
// a repeated flush reuses it instead of racing a second upload.
type statusDirty struct {
	epoch    int64
	done     *doneSignal
	launched bool
}

// statusDownloadFailed: terminal for this entry; eviction+reopen required.
type statusDownloadFailed struct{}

// statusInvalidated: superseded; terminal, every operation fails distinctly.
type statusInvalidated struct{}

func (*statusDownloading) isStatus()    {}
func (*statusReady) isStatus()          {}
func (*statusDirty) isStatus()          {}
func (*statusDownloadFailed) isStatus() {}
func (*statusInvalidated) isStatus()    {}
