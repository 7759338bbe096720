// Package lifecycle implements the connection lifecycle machine: the
// single owner of connection state, driving peripheral operations and
// consuming their completions plus bridge events on one serialized
// input queue.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"buttonlink/internal/logger"
	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
)

const (
	inputQueueSize  = 256
	updateQueueSize = 16
)

// Machine is the long-lived connection lifecycle actor. Construct once
// at application start with New, run with Start, tear down with Stop.
type Machine struct {
	ops          peripheral.Ops
	store        store.Store
	scanDuration time.Duration

	msgs chan message
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Run-loop-owned state. Only the run loop touches these.
	phase Phase
	ctx   connContext
	gen   uint64 // generation of the outstanding async operation
	// autoReconnect gates the remembered-device fast path at init. True
	// at start and after every successful connect+setup; false after a
	// failed one, so a dead remembered device is not hammered in a loop.
	autoReconnect bool

	snapMu  sync.RWMutex
	snap    Snapshot
	updates chan Snapshot
}

// New creates a stopped machine. scanDuration bounds each scan window.
func New(ops peripheral.Ops, st store.Store, scanDuration time.Duration) *Machine {
	m := &Machine{
		ops:           ops,
		store:         st,
		scanDuration:  scanDuration,
		msgs:          make(chan message, inputQueueSize),
		done:          make(chan struct{}),
		phase:         Idle(),
		autoReconnect: true,
		updates:       make(chan Snapshot, updateQueueSize),
	}
	m.snap = m.buildSnapshot()
	return m
}

// Start launches the run loop. Safe to call once; later calls are no-ops.
func (m *Machine) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop shuts the machine down: the run loop exits and any scan or
// connection is unwound best-effort. Idempotent.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.ops.StopScan()
		m.snapMu.RLock()
		snap := m.snap
		m.snapMu.RUnlock()
		if snap.Phase.IsConnected() && snap.DeviceID != "" {
			m.ops.StopNotify(snap.DeviceID, peripheral.ServiceUUID, peripheral.ButtonCharUUID)
			m.ops.Disconnect(snap.DeviceID)
		}
	})
}

// Snapshot returns a copy of the current machine state.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Updates is the observer channel: every transition publishes a
// snapshot. Delivery is best-effort with drop-oldest semantics; slow
// observers see the latest state, not every intermediate one.
func (m *Machine) Updates() <-chan Snapshot {
	return m.updates
}

// ---- intents (callable from any goroutine) ----

// RequestStart kicks the machine out of idle into init.
func (m *Machine) RequestStart() { m.send(startRequested{}) }

// SelectDevice connects to a device discovered during scanning.
func (m *Machine) SelectDevice(id string) { m.send(deviceSelected{id: id}) }

// ToggleLED flips the LED, optimistically.
func (m *Machine) ToggleLED() { m.send(toggleLEDRequested{}) }

// ReadButton re-reads the button characteristic.
func (m *Machine) ReadButton() { m.send(readButtonRequested{}) }

// Disconnect tears down the current connection.
func (m *Machine) Disconnect() { m.send(disconnectRequested{}) }

// Forget clears the remembered device from the store and the context.
// Works in any phase and forces no phase change.
func (m *Machine) Forget() { m.send(forgetRequested{}) }

// ---- bridge inputs ----

// AdvertisementSeen feeds a discovered-device event into the queue.
func (m *Machine) AdvertisementSeen(adv peripheral.Advertisement) {
	m.send(advertisementSeen{adv: adv})
}

// ButtonChanged feeds a button notification into the queue.
func (m *Machine) ButtonChanged(pressed bool) {
	m.send(buttonChanged{pressed: pressed})
}

// PeerDisconnected feeds an unsolicited disconnect into the queue.
func (m *Machine) PeerDisconnected(id string) {
	m.send(peerDisconnected{id: id})
}

func (m *Machine) send(msg message) {
	select {
	case m.msgs <- msg:
	case <-m.done:
	}
}

// post delivers an operation completion from a dispatch goroutine.
func (m *Machine) post(msg message) { m.send(msg) }

func (m *Machine) run() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.msgs:
			m.handle(msg)
			m.publish()
		}
	}
}

func (m *Machine) handle(msg message) {
	switch msg := msg.(type) {
	case startRequested:
		m.handleStart()
	case deviceSelected:
		m.handleSelect(msg.id)
	case toggleLEDRequested:
		m.handleToggleLED()
	case readButtonRequested:
		m.handleReadButton()
	case disconnectRequested:
		m.handleDisconnect("")
	case forgetRequested:
		m.handleForget()
	case advertisementSeen:
		m.handleAdvertisement(msg.adv)
	case buttonChanged:
		m.handleButtonChanged(msg.pressed)
	case peerDisconnected:
		m.handlePeerDisconnected(msg.id)
	case initDone:
		m.handleInitDone(msg)
	case scanEnded:
		m.handleScanEnded(msg)
	case connectDone:
		m.handleConnectDone(msg)
	case writeDone:
		m.handleWriteDone(msg)
	case readDone:
		m.handleReadDone(msg)
	case teardownDone:
		m.handleTeardownDone(msg)
	}
}

// ---- transition handlers ----

func (m *Machine) handleStart() {
	if m.phase.Kind != KindIdle {
		logger.Debug("[MACHINE] start ignored in phase %s", m.phase)
		return
	}
	m.ctx.lastErr = ctxError{}
	m.enterInit()
}

// enterInit moves to the init phase and dispatches the permission and
// adapter check. Every failure path funnels back here: the adapter can
// be toggled externally at any time, so it is re-validated on each pass.
func (m *Machine) enterInit() {
	m.phase = Init()
	gen := m.nextGen()
	go func() {
		if err := m.ops.RequestPermissionsAndAdapter(); err != nil {
			m.post(initDone{gen: gen, err: err})
			return
		}
		remembered, err := m.store.Get()
		if err != nil {
			// A broken store never blocks startup; fall through to scanning.
			logger.Warn("[MACHINE] device store read: %v", err)
		}
		m.post(initDone{gen: gen, remembered: remembered})
	}()
}

func (m *Machine) handleInitDone(msg initDone) {
	if m.phase.Kind != KindInit || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale init completion dropped")
		return
	}

	if msg.err != nil {
		logger.Error("[MACHINE] init failed: %v", msg.err)
		m.ctx.setError(msg.err.Error(), true)
		m.phase = Idle()
		return
	}

	if msg.remembered != nil && m.autoReconnect {
		logger.Info("[MACHINE] reconnecting to remembered device %s", msg.remembered.ID)
		m.ctx.deviceID = msg.remembered.ID
		m.ctx.deviceName = msg.remembered.Name
		m.enterConnecting()
		return
	}
	m.enterScanning()
}

func (m *Machine) enterScanning() {
	m.phase = Scanning()
	m.ctx.discovered.clear()
	gen := m.nextGen()
	go func() {
		err := m.ops.Scan(peripheral.ServiceUUID, m.scanDuration)
		m.post(scanEnded{gen: gen, err: err})
	}()
}

func (m *Machine) handleScanEnded(msg scanEnded) {
	if m.phase.Kind != KindScanning || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale scan completion dropped")
		return
	}
	if msg.err != nil {
		logger.Error("[MACHINE] scan failed: %v", msg.err)
		m.ctx.setError(msg.err.Error(), true)
		m.enterInit()
		return
	}
	// Scan window elapsed cleanly. Discovered devices stay visible and
	// the user can still select one.
	logger.Debug("[MACHINE] scan window ended")
}

func (m *Machine) handleAdvertisement(adv peripheral.Advertisement) {
	if m.phase.Kind != KindScanning {
		return
	}
	m.ctx.discovered.upsert(adv)
}

func (m *Machine) handleSelect(id string) {
	if m.phase.Kind != KindScanning {
		logger.Debug("[MACHINE] select ignored in phase %s", m.phase)
		return
	}
	m.ctx.deviceID = id
	if adv, ok := m.ctx.discovered.get(id); ok {
		m.ctx.deviceName = adv.Name
	} else {
		m.ctx.deviceName = ""
	}
	m.enterConnecting()
}

// enterConnecting dispatches the connect+setup sequence as one logical
// unit. The sequence itself stops any running scan first, so the prior
// scan attempt is unwound before the new connection starts.
func (m *Machine) enterConnecting() {
	m.phase = Connecting()
	id := m.ctx.deviceID
	gen := m.nextGen()
	go func() {
		setup, err := peripheral.ConnectAndSetup(context.Background(), m.ops, id)
		m.post(connectDone{gen: gen, initialButton: setup.InitialButton, err: err})
	}()
}

func (m *Machine) handleConnectDone(msg connectDone) {
	if m.phase.Kind != KindConnecting || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale connect completion dropped")
		return
	}

	if msg.err != nil {
		logger.Error("[MACHINE] connect+setup failed: %v", msg.err)
		m.ctx.setError(msg.err.Error(), true)
		m.ctx.clearDevice()
		m.autoReconnect = false
		m.enterInit()
		return
	}

	button := msg.initialButton
	m.ctx.button = &button
	m.ctx.clearConnError()
	m.autoReconnect = true
	m.phase = Connected(SubReady)
	m.nextGen()

	// Persist only on a fully successful connect+setup; a failed persist
	// never blocks the connection.
	remembered := store.Remembered{ID: m.ctx.deviceID, Name: m.ctx.deviceName}
	go func() {
		if err := m.store.Set(remembered); err != nil {
			logger.Warn("[MACHINE] device store write: %v", err)
		}
	}()
	logger.Info("[MACHINE] connected to %s", m.ctx.deviceID)
}

func (m *Machine) handleButtonChanged(pressed bool) {
	if !m.phase.Is(SubReady) {
		return
	}
	m.ctx.button = &pressed
}

func (m *Machine) handleToggleLED() {
	if !m.phase.Is(SubReady) {
		logger.Debug("[MACHINE] toggle ignored in phase %s", m.phase)
		return
	}
	// Flip immediately so the UI tracks the intent; the failure edge
	// reverts it.
	m.ctx.led = !m.ctx.led
	m.phase = Connected(SubTogglingLED)
	id := m.ctx.deviceID
	value := peripheral.LEDValue(m.ctx.led)
	gen := m.nextGen()
	go func() {
		err := m.ops.Write(id, peripheral.ServiceUUID, peripheral.LEDCharUUID, value)
		m.post(writeDone{gen: gen, err: err})
	}()
}

func (m *Machine) handleWriteDone(msg writeDone) {
	if !m.phase.Is(SubTogglingLED) || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale write completion dropped")
		return
	}
	if msg.err != nil {
		logger.Error("[MACHINE] LED write failed: %v", msg.err)
		m.ctx.led = !m.ctx.led
		m.ctx.setError(msg.err.Error(), false)
		m.ctx.clearDevice()
		m.ctx.button = nil
		m.enterInit()
		return
	}
	m.phase = Connected(SubReady)
	m.nextGen()
}

func (m *Machine) handleReadButton() {
	if !m.phase.Is(SubReady) {
		logger.Debug("[MACHINE] read ignored in phase %s", m.phase)
		return
	}
	m.phase = Connected(SubReadingButton)
	id := m.ctx.deviceID
	gen := m.nextGen()
	go func() {
		value, err := m.ops.Read(id, peripheral.ServiceUUID, peripheral.ButtonCharUUID)
		m.post(readDone{gen: gen, pressed: peripheral.ButtonPressed(value), err: err})
	}()
}

func (m *Machine) handleReadDone(msg readDone) {
	if !m.phase.Is(SubReadingButton) || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale read completion dropped")
		return
	}
	if msg.err != nil {
		logger.Error("[MACHINE] button read failed: %v", msg.err)
		m.ctx.setError(msg.err.Error(), false)
		m.ctx.clearDevice()
		m.ctx.button = nil
		m.enterInit()
		return
	}
	pressed := msg.pressed
	m.ctx.button = &pressed
	m.phase = Connected(SubReady)
	m.nextGen()
}

// handleDisconnect services both user-initiated disconnects and
// unsolicited link drops; errMsg is non-empty for the latter. Cleanup is
// unconditional and its errors are swallowed: disconnecting a device
// that is already gone is not a reportable failure.
func (m *Machine) handleDisconnect(errMsg string) {
	if !m.phase.IsConnected() || m.phase.Is(SubDisconnecting) {
		logger.Debug("[MACHINE] disconnect ignored in phase %s", m.phase)
		return
	}
	if errMsg != "" {
		m.ctx.setError(errMsg, true)
	}
	m.phase = Connected(SubDisconnecting)
	id := m.ctx.deviceID
	gen := m.nextGen()
	go func() {
		m.ops.StopNotify(id, peripheral.ServiceUUID, peripheral.ButtonCharUUID)
		m.ops.Disconnect(id)
		m.post(teardownDone{gen: gen})
	}()
}

func (m *Machine) handleTeardownDone(msg teardownDone) {
	if !m.phase.Is(SubDisconnecting) || msg.gen != m.gen {
		logger.Debug("[MACHINE] stale teardown completion dropped")
		return
	}
	m.ctx.clearDevice()
	m.ctx.button = nil
	// A deliberate or dropped link does not reconnect by itself; the
	// user picks the device again from a fresh scan.
	m.autoReconnect = false
	logger.Info("[MACHINE] disconnected")
	m.enterInit()
}

func (m *Machine) handlePeerDisconnected(id string) {
	if !m.phase.IsConnected() || id != m.ctx.deviceID {
		return
	}
	logger.Warn("[MACHINE] unsolicited disconnect from %s", id)
	m.handleDisconnect("peripheral disconnected unexpectedly")
}

// handleForget clears the remembered device everywhere it is recorded.
// Deliberately phase-free: forgetting must work whether or not a
// connection exists, and never forces a transition.
func (m *Machine) handleForget() {
	m.ctx.clearDevice()
	go func() {
		if err := m.store.Clear(); err != nil {
			logger.Warn("[MACHINE] device store clear: %v", err)
		}
	}()
}

// nextGen invalidates any outstanding operation completion and returns
// the generation for the next dispatch.
func (m *Machine) nextGen() uint64 {
	m.gen++
	return m.gen
}

// ---- observation ----

func (m *Machine) buildSnapshot() Snapshot {
	snap := Snapshot{
		Phase:      m.phase,
		DeviceID:   m.ctx.deviceID,
		DeviceName: m.ctx.deviceName,
		LEDState:   m.ctx.led,
		Error:      m.ctx.lastErr.msg,
		Discovered: m.ctx.discovered.snapshot(),
		LastUpdate: time.Now(),
	}
	if m.ctx.button != nil {
		button := *m.ctx.button
		snap.ButtonState = &button
	}
	return snap
}

func (m *Machine) publish() {
	snap := m.buildSnapshot()
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()

	select {
	case m.updates <- snap:
	default:
		// Drop the oldest pending snapshot; the observer only needs the
		// latest state.
		select {
		case <-m.updates:
		default:
		}
		select {
		case m.updates <- snap:
		default:
		}
	}
}
