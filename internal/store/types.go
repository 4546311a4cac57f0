package store

import "github.com/cfelder/loopline/internal/schedule"

// Run outcome codes. OutcomeOK marks a run that produced at least one
// schedule; the others carry the code of the failure that ended it.
const (
	OutcomeOK         = "OK"
	OutcomeStructural = "STRUCTURAL_INVALID"
	OutcomeNoSchedule = "SCHEDULE_NOT_FOUND"
	OutcomeExhausted  = "SEARCH_EXHAUSTED"
	OutcomeValidation = "VALIDATION_FAILED"
)

// Run is one linearization run record. Seq is the logical clock
// position of the run within the store; ordering never uses wall time.
type Run struct {
	Token         string
	KernelName    string
	KernelHash    string
	Config        schedule.Config
	Outcome       string
	Detail        string
	NodesExpanded int
	Seq           int64
}

// KernelRecord is a persisted kernel revision: its content hash,
// lineage, and the canonical JSON body the hash was computed over.
type KernelRecord struct {
	Hash       string
	Name       string
	Revision   int
	ParentHash string
	Body       string
}

// StoredSchedule is one accepted schedule of a run, with its full item
// sequence when loaded through a read that joins schedule_items.
type StoredSchedule struct {
	ID         int64
	RunToken   string
	Ordinal    int
	KernelHash string
	Items      []schedule.Item
}
