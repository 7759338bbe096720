package lifecycle

import (
	"time"

	"buttonlink/internal/peripheral"
)

// connContext is the mutable connection context. It is owned by the run
// loop and mutated only by transition handlers; observers see copies via
// Snapshot.
type connContext struct {
	deviceID   string
	deviceName string
	button     *bool // nil until the first read or notification
	led        bool  // optimistic, rolled back on write failure
	lastErr    ctxError
	discovered deviceList
}

// ctxError is the single error slot. connRelated errors are cleared when
// a connection is (re)established; operation errors such as a failed LED
// write survive into connected.ready so the UI can show them.
type ctxError struct {
	msg         string
	connRelated bool
}

func (c *connContext) setError(msg string, connRelated bool) {
	c.lastErr = ctxError{msg: msg, connRelated: connRelated}
}

func (c *connContext) clearConnError() {
	if c.lastErr.connRelated {
		c.lastErr = ctxError{}
	}
}

func (c *connContext) clearDevice() {
	c.deviceID = ""
	c.deviceName = ""
}

// deviceList accumulates advertisements during a scan, keyed by device
// id with insertion order preserved. Re-observing a device replaces its
// record in place so a live UI list does not reorder under the user.
type deviceList struct {
	order []peripheral.Advertisement
	index map[string]int
}

func (l *deviceList) upsert(adv peripheral.Advertisement) {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if i, ok := l.index[adv.ID]; ok {
		l.order[i] = adv
		return
	}
	l.index[adv.ID] = len(l.order)
	l.order = append(l.order, adv)
}

func (l *deviceList) get(id string) (peripheral.Advertisement, bool) {
	i, ok := l.index[id]
	if !ok {
		return peripheral.Advertisement{}, false
	}
	return l.order[i], true
}

func (l *deviceList) clear() {
	l.order = nil
	l.index = nil
}

func (l *deviceList) snapshot() []peripheral.Advertisement {
	out := make([]peripheral.Advertisement, len(l.order))
	copy(out, l.order)
	return out
}

// Snapshot is an immutable copy of the machine state for observers.
type Snapshot struct {
	Phase       Phase
	DeviceID    string
	DeviceName  string
	ButtonState *bool
	LEDState    bool
	Error       string
	Discovered  []peripheral.Advertisement
	LastUpdate  time.Time
}
