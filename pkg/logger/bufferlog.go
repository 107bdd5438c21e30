// Package logger implements a per-cycle in-memory log buffer.
//
// Detail lines accumulate in a buffer while a poll cycle runs. If the
// cycle fails, the buffer is replayed followed by the final error, so the
// log shows the whole story exactly when it matters. If the cycle
// succeeds, the buffer is discarded and one short summary line is written.
//
// Thread safety comes from a dedicated logger goroutine and a command
// channel; no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	cycleID string
	message string    // for Append
	summary string    // for Success
	err     error     // for FlushError
	when    time.Time // timestamp, kept for ordering if ever needed
}

// Buffered channel absorbs bursts from overlapping cycles.
var ch = make(chan cmd, 128)

// Begin starts buffering for cycleID.
func Begin(cycleID string) { ch <- cmd{act: actBegin, cycleID: cycleID, when: time.Now()} }

// Append adds one detail line to the cycle's buffer. Lines for unknown
// cycles go straight to the log.
func Append(cycleID, msg string) {
	ch <- cmd{act: actAppend, cycleID: cycleID, message: msg, when: time.Now()}
}

// Success drops the buffer and writes one short summary line.
func Success(cycleID, summary string) {
	ch <- cmd{act: actSuccess, cycleID: cycleID, summary: summary, when: time.Now()}
}

// FlushError replays the accumulated buffer followed by the final error.
func FlushError(cycleID string, err error) {
	ch <- cmd{act: actFlushErr, cycleID: cycleID, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.cycleID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.cycleID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%-6s][poll] ✔ %s", c.cycleID, c.summary)
			delete(buffers, c.cycleID)

		case actFlushErr:
			if b := buffers[c.cycleID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.cycleID)
			}
			log.Printf("[%-6s][ERROR] %v", c.cycleID, c.err)
		}
	}
}
