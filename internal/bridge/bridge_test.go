package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"buttonlink/internal/lifecycle"
	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
)

// fakeEvents hands the registered callbacks back to the test so it can
// raise events as the backend would.
type fakeEvents struct {
	mu           sync.Mutex
	onAdv        func(peripheral.Advertisement)
	onValue      func(string, []byte)
	onDisconnect func(string)
	unsubCalls   int
}

func (e *fakeEvents) OnAdvertisement(cb func(peripheral.Advertisement)) func() {
	e.mu.Lock()
	e.onAdv = cb
	e.mu.Unlock()
	return e.countUnsub
}

func (e *fakeEvents) OnValueChanged(cb func(string, []byte)) func() {
	e.mu.Lock()
	e.onValue = cb
	e.mu.Unlock()
	return e.countUnsub
}

func (e *fakeEvents) OnDisconnected(cb func(string)) func() {
	e.mu.Lock()
	e.onDisconnect = cb
	e.mu.Unlock()
	return e.countUnsub
}

func (e *fakeEvents) countUnsub() {
	e.mu.Lock()
	e.unsubCalls++
	e.mu.Unlock()
}

var _ peripheral.Events = (*fakeEvents)(nil)

// happyOps is the minimal always-succeeding operation surface.
type happyOps struct {
	mu       sync.Mutex
	scanStop chan struct{}
}

func (o *happyOps) RequestPermissionsAndAdapter() error { return nil }

func (o *happyOps) Scan(serviceUUID string, duration time.Duration) error {
	o.mu.Lock()
	stop := make(chan struct{})
	o.scanStop = stop
	o.mu.Unlock()
	select {
	case <-stop:
	case <-time.After(duration):
	}
	return nil
}

func (o *happyOps) StopScan() error {
	o.mu.Lock()
	stop := o.scanStop
	o.scanStop = nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

func (o *happyOps) Connect(context.Context, string) error { return nil }

func (o *happyOps) DiscoverServices(string) ([]string, error) {
	return []string{peripheral.ServiceUUID}, nil
}

func (o *happyOps) StartNotify(string, string, string) error    { return nil }
func (o *happyOps) StopNotify(string, string, string) error     { return nil }
func (o *happyOps) Read(string, string, string) ([]byte, error) { return []byte{0x00}, nil }
func (o *happyOps) Write(string, string, string, []byte) error  { return nil }
func (o *happyOps) Disconnect(string) error                     { return nil }

var _ peripheral.Ops = (*happyOps)(nil)

type nullStore struct{}

func (nullStore) Get() (*store.Remembered, error) { return nil, nil }
func (nullStore) Set(store.Remembered) error      { return nil }
func (nullStore) Clear() error                    { return nil }

func waitFor(t *testing.T, m *lifecycle.Machine, what string, cond func(lifecycle.Snapshot) bool) lifecycle.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := m.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap := m.Snapshot()
	t.Fatalf("timed out waiting for %s; phase=%s", what, snap.Phase)
	return snap
}

func setup(t *testing.T) (*fakeEvents, *lifecycle.Machine, *Bridge) {
	t.Helper()
	events := &fakeEvents{}
	m := lifecycle.New(&happyOps{}, nullStore{}, 5*time.Second)
	b := New(events, m)
	b.Start()
	m.Start()
	t.Cleanup(func() {
		b.Stop()
		m.Stop()
	})
	return events, m, b
}

func TestBridgeForwardsAdvertisements(t *testing.T) {
	events, m, _ := setup(t)

	m.RequestStart()
	waitFor(t, m, "scanning", func(s lifecycle.Snapshot) bool {
		return s.Phase.Kind == lifecycle.KindScanning
	})

	events.onAdv(peripheral.Advertisement{ID: "AA:BB:CC:DD:EE:FF", Name: "panel", RSSI: -42})
	snap := waitFor(t, m, "discovered device", func(s lifecycle.Snapshot) bool {
		return len(s.Discovered) == 1
	})
	if snap.Discovered[0].Name != "panel" {
		t.Errorf("forwarded advertisement = %+v", snap.Discovered[0])
	}
}

func TestBridgeFiltersValueChangesByCharacteristic(t *testing.T) {
	events, m, _ := setup(t)

	m.RequestStart()
	waitFor(t, m, "scanning", func(s lifecycle.Snapshot) bool {
		return s.Phase.Kind == lifecycle.KindScanning
	})
	events.onAdv(peripheral.Advertisement{ID: "AA:BB:CC:DD:EE:FF"})
	m.SelectDevice("AA:BB:CC:DD:EE:FF")
	waitFor(t, m, "connected", func(s lifecycle.Snapshot) bool {
		return s.Phase.Is(lifecycle.SubReady)
	})

	// Traffic on an unrelated characteristic must not touch button state.
	events.onValue("00002a19-0000-1000-8000-00805f9b34fb", []byte{0x01})
	time.Sleep(50 * time.Millisecond)
	if snap := m.Snapshot(); snap.ButtonState == nil || *snap.ButtonState {
		t.Errorf("ButtonState = %v after unrelated characteristic", snap.ButtonState)
	}

	// Button characteristic UUIDs arrive uppercased from some stacks.
	events.onValue("00001524-1212-EFDE-1523-785FEABCD123", []byte{0x01})
	waitFor(t, m, "button pressed", func(s lifecycle.Snapshot) bool {
		return s.ButtonState != nil && *s.ButtonState
	})
}

func TestBridgeForwardsDisconnects(t *testing.T) {
	events, m, _ := setup(t)

	m.RequestStart()
	waitFor(t, m, "scanning", func(s lifecycle.Snapshot) bool {
		return s.Phase.Kind == lifecycle.KindScanning
	})
	events.onAdv(peripheral.Advertisement{ID: "AA:BB:CC:DD:EE:FF"})
	m.SelectDevice("AA:BB:CC:DD:EE:FF")
	waitFor(t, m, "connected", func(s lifecycle.Snapshot) bool {
		return s.Phase.Is(lifecycle.SubReady)
	})

	events.onDisconnect("AA:BB:CC:DD:EE:FF")
	snap := waitFor(t, m, "teardown", func(s lifecycle.Snapshot) bool {
		return !s.Phase.IsConnected() && s.DeviceID == ""
	})
	if snap.Error == "" {
		t.Error("unsolicited disconnect left no error")
	}
}

func TestBridgeStopIsIdempotent(t *testing.T) {
	events, _, b := setup(t)

	b.Stop()
	b.Stop()

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.unsubCalls != 3 {
		t.Errorf("unsubscribe calls = %d, want one per subscription", events.unsubCalls)
	}
}
