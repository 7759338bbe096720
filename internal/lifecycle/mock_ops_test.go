package lifecycle

import (
	"context"
	"sync"
	"time"

	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
)

// mockOps simulates the peripheral operation surface. Individual
// operations can be made to fail, and gates let a test hold an
// operation open to observe the phase the machine sits in meanwhile.
type mockOps struct {
	mu sync.Mutex

	initErr    error
	scanErr    error
	connectErr error
	notifyErr  error
	readErr    error
	writeErr   error

	// Gates. A non-nil gate blocks the operation until the channel is
	// closed. holdInit is checked per call so a test can start holding
	// init only partway through a scenario.
	holdInit    bool
	initRelease chan struct{}
	connectGate chan struct{}
	scanGate    chan struct{}
	writeGate   chan struct{}
	readGate    chan struct{}

	scanStop chan struct{}

	services  []string
	readValue []byte

	calls        map[string]int
	connectedIDs []string
	writtenLED   [][]byte
}

func newMockOps() *mockOps {
	return &mockOps{
		services:  []string{peripheral.ServiceUUID},
		readValue: []byte{0x00},
		calls:     make(map[string]int),
	}
}

func (o *mockOps) record(op string) {
	o.mu.Lock()
	o.calls[op]++
	o.mu.Unlock()
}

func (o *mockOps) callCount(op string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[op]
}

func wait(gate chan struct{}) {
	if gate != nil {
		<-gate
	}
}

func (o *mockOps) RequestPermissionsAndAdapter() error {
	o.record("init")
	o.mu.Lock()
	hold := o.holdInit
	release := o.initRelease
	err := o.initErr
	o.mu.Unlock()
	if hold {
		<-release
	}
	return err
}

func (o *mockOps) Scan(serviceUUID string, duration time.Duration) error {
	o.record("scan")
	o.mu.Lock()
	gate := o.scanGate
	err := o.scanErr
	stop := make(chan struct{})
	o.scanStop = stop
	o.mu.Unlock()

	wait(gate)
	if err != nil {
		return err
	}
	select {
	case <-stop:
	case <-time.After(duration):
	}
	return nil
}

func (o *mockOps) StopScan() error {
	o.record("stopScan")
	o.mu.Lock()
	stop := o.scanStop
	o.scanStop = nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

func (o *mockOps) Connect(_ context.Context, id string) error {
	o.record("connect")
	o.mu.Lock()
	gate := o.connectGate
	err := o.connectErr
	o.mu.Unlock()
	wait(gate)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.connectedIDs = append(o.connectedIDs, id)
	o.mu.Unlock()
	return nil
}

func (o *mockOps) DiscoverServices(id string) ([]string, error) {
	o.record("discoverServices")
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.services, nil
}

func (o *mockOps) StartNotify(id, serviceUUID, charUUID string) error {
	o.record("startNotify")
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.notifyErr
}

func (o *mockOps) StopNotify(id, serviceUUID, charUUID string) error {
	o.record("stopNotify")
	return nil
}

func (o *mockOps) Read(id, serviceUUID, charUUID string) ([]byte, error) {
	o.record("read")
	o.mu.Lock()
	gate := o.readGate
	err := o.readErr
	value := o.readValue
	o.mu.Unlock()
	wait(gate)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (o *mockOps) Write(id, serviceUUID, charUUID string, value []byte) error {
	o.record("write")
	o.mu.Lock()
	gate := o.writeGate
	err := o.writeErr
	o.mu.Unlock()
	wait(gate)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.writtenLED = append(o.writtenLED, value)
	o.mu.Unlock()
	return nil
}

func (o *mockOps) Disconnect(id string) error {
	o.record("disconnect")
	return nil
}

// holdNextInit makes subsequent init checks block until releaseInit.
func (o *mockOps) holdNextInit() {
	o.mu.Lock()
	o.holdInit = true
	o.initRelease = make(chan struct{})
	o.mu.Unlock()
}

func (o *mockOps) releaseInit() {
	o.mu.Lock()
	o.holdInit = false
	release := o.initRelease
	o.initRelease = nil
	o.mu.Unlock()
	if release != nil {
		close(release)
	}
}

var _ peripheral.Ops = (*mockOps)(nil)

// mockStore is an in-memory device store.
type mockStore struct {
	mu         sync.Mutex
	remembered *store.Remembered
	getErr     error
	setErr     error
	clearCalls int
	setCalls   int
}

func (s *mockStore) Get() (*store.Remembered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.remembered == nil {
		return nil, nil
	}
	cp := *s.remembered
	return &cp, nil
}

func (s *mockStore) Set(dev store.Remembered) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.remembered = &dev
	return nil
}

func (s *mockStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	s.remembered = nil
	return nil
}

func (s *mockStore) get() *store.Remembered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remembered
}

var _ store.Store = (*mockStore)(nil)
