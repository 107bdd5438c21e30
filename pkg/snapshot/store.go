package snapshot

import (
	"time"

	"github.com/google/uuid"

	"txn-density-map/pkg/pipeline"
)

// Snapshot is the one aggregation result the process serves at any moment.
// Version changes only when the result content changes; an upstream failure
// updates LastError on the current snapshot without touching the data or
// the version, so dashboards keep showing the last good map.
type Snapshot struct {
	Version     string
	FetchedAt   time.Time
	ContentHash string
	Result      pipeline.Result
	LastError   string
	ErrorAt     time.Time
}

// Store owns the current snapshot from a single goroutine. Readers and
// writers talk to it over channels instead of sharing a mutex, so a slow
// rebuild can never corrupt what an API request is reading.
type Store struct {
	gets     chan chan Snapshot
	updates  chan update
	failures chan failure
	clears   chan chan struct{}
	bus      *Bus
}

type update struct {
	hash   string
	result pipeline.Result
	reply  chan Snapshot
}

type failure struct {
	err   error
	reply chan struct{}
}

// New starts the owning goroutine with an empty but versioned snapshot, so
// cache keys and change events always have a real value to work with. The
// goroutine lives as long as the process, like the rest of the server's
// background loops. A nil bus is fine; updates then go unannounced.
func New(bus *Bus) *Store {
	s := &Store{
		gets:     make(chan chan Snapshot),
		updates:  make(chan update),
		failures: make(chan failure),
		clears:   make(chan chan struct{}),
		bus:      bus,
	}
	go s.run()
	return s
}

// Current returns the snapshot being served right now.
func (s *Store) Current() Snapshot {
	reply := make(chan Snapshot)
	s.gets <- reply
	return <-reply
}

// Update replaces the snapshot with a freshly built result under a new
// version, clears any recorded upstream error and announces the version on
// the bus. The new snapshot comes back to the caller for logging.
func (s *Store) Update(hash string, result pipeline.Result) Snapshot {
	reply := make(chan Snapshot)
	s.updates <- update{hash: hash, result: result, reply: reply}
	return <-reply
}

// SetError records an upstream failure on the current snapshot. The served
// data and version stay as they were.
func (s *Store) SetError(err error) {
	reply := make(chan struct{})
	s.failures <- failure{err: err, reply: reply}
	<-reply
}

// ClearError wipes a previously recorded upstream failure once polling
// succeeds again. Data, version and fetch time stay untouched: an unchanged
// body proves the upstream healthy without giving dashboards anything new
// to reload.
func (s *Store) ClearError() {
	reply := make(chan struct{})
	s.clears <- reply
	<-reply
}

func (s *Store) run() {
	current := Snapshot{Version: uuid.NewString()}

	for {
		select {
		case reply := <-s.gets:
			reply <- current
		case u := <-s.updates:
			current = Snapshot{
				Version:     uuid.NewString(),
				FetchedAt:   time.Now(),
				ContentHash: u.hash,
				Result:      u.result,
			}
			if s.bus != nil {
				s.bus.Publish(current.Version)
			}
			u.reply <- current
		case f := <-s.failures:
			current.LastError = f.err.Error()
			current.ErrorAt = time.Now()
			f.reply <- struct{}{}
		case reply := <-s.clears:
			current.LastError = ""
			current.ErrorAt = time.Time{}
			reply <- struct{}{}
		}
	}
}
