package lifecycle

import (
	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
)

// message is a single input to the machine's run loop. UI intents,
// bridge events and operation completions all arrive as messages on one
// queue and are processed strictly one at a time.
type message interface{ isMessage() }

// ---- UI intents ----

type startRequested struct{}
type deviceSelected struct{ id string }
type toggleLEDRequested struct{}
type readButtonRequested struct{}
type disconnectRequested struct{}
type forgetRequested struct{}

// ---- bridge events ----

type advertisementSeen struct{ adv peripheral.Advertisement }

type buttonChanged struct{ pressed bool }

type peerDisconnected struct{ id string }

// ---- operation completions ----
// Each carries the generation captured when the operation was
// dispatched; a mismatch against the current generation means the
// machine has already moved on and the completion is dropped.

type initDone struct {
	gen        uint64
	remembered *store.Remembered
	err        error
}

type scanEnded struct {
	gen uint64
	err error
}

type connectDone struct {
	gen           uint64
	initialButton bool
	err           error
}

type writeDone struct {
	gen uint64
	err error
}

type readDone struct {
	gen     uint64
	pressed bool
	err     error
}

type teardownDone struct{ gen uint64 }

func (startRequested) isMessage()      {}
func (deviceSelected) isMessage()      {}
func (toggleLEDRequested) isMessage()  {}
func (readButtonRequested) isMessage() {}
func (disconnectRequested) isMessage() {}
func (forgetRequested) isMessage()     {}
func (advertisementSeen) isMessage()   {}
func (buttonChanged) isMessage()       {}
func (peerDisconnected) isMessage()    {}
func (initDone) isMessage()            {}
func (scanEnded) isMessage()           {}
func (connectDone) isMessage()         {}
func (writeDone) isMessage()           {}
func (readDone) isMessage()            {}
func (teardownDone) isMessage()        {}
