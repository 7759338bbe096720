package peripheral

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"buttonlink/internal/logger"
)

// Backend is the production Ops/Events implementation on top of
// tinygo-org/bluetooth, with an optional BlueZ D-Bus side channel for
// notification delivery on Linux.
type Backend struct {
	adapter   *bluetooth.Adapter
	opTimeout time.Duration

	mu          sync.Mutex
	enabled     bool
	scanning    bool
	scanStop    chan struct{}
	device      bluetooth.Device
	deviceID    string
	connected   bool
	chars       map[string]bluetooth.DeviceCharacteristic // keyed by lowercase UUID
	bluez       *BlueZNotifier
	notifying   bool
	subs        subscribers
	nextSub     int
}

type subscribers struct {
	adv   map[int]func(Advertisement)
	value map[int]func(string, []byte)
	disc  map[int]func(string)
}

// NewBackend wraps the default adapter. opTimeout bounds individual
// blocking operations (connect, read, write).
func NewBackend(opTimeout time.Duration) *Backend {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Backend{
		adapter:   bluetooth.DefaultAdapter,
		opTimeout: opTimeout,
		chars:     make(map[string]bluetooth.DeviceCharacteristic),
		subs: subscribers{
			adv:   make(map[int]func(Advertisement)),
			value: make(map[int]func(string, []byte)),
			disc:  make(map[int]func(string)),
		},
	}
}

func (b *Backend) RequestPermissionsAndAdapter() error {
	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()

	if err := b.adapter.Enable(); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
			return Wrap(CodePermissionDenied, "enable-adapter", err)
		}
		return Wrap(CodeAdapterUnavailable, "enable-adapter", err)
	}

	if !enabled {
		// The connect handler fires with connected=false when the link
		// drops on its own; registered once, survives reconnects.
		b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			id := device.Address.String()
			logger.Info("[BLE] link dropped: %s", id)
			b.raiseDisconnected(id)
		})
		b.mu.Lock()
		b.enabled = true
		b.mu.Unlock()
	}
	return nil
}

func (b *Backend) Scan(serviceUUID string, duration time.Duration) error {
	filter, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return Errf(CodeScanFailed, "scan", "parse service uuid %q: %v", serviceUUID, err)
	}

	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return Errf(CodeScanFailed, "scan", "scan already in progress")
	}
	b.scanning = true
	stop := make(chan struct{})
	b.scanStop = stop
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.scanning = false
		b.scanStop = nil
		b.mu.Unlock()
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(filter) {
				return
			}
			b.raiseAdvertisement(Advertisement{
				ID:           result.Address.String(),
				Name:         result.LocalName(),
				RSSI:         int(result.RSSI),
				ServiceUUIDs: []string{serviceUUID},
			})
		})
	}()

	select {
	case <-stop:
		b.adapter.StopScan()
		<-done
		return nil
	case <-timer.C:
		logger.Debug("[BLE] scan window elapsed")
		b.adapter.StopScan()
		<-done
		return nil
	case err := <-done:
		if err != nil {
			return Wrap(CodeScanFailed, "scan", err)
		}
		return nil
	}
}

func (b *Backend) StopScan() error {
	b.mu.Lock()
	stop := b.scanStop
	b.scanStop = nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	return nil
}

func (b *Backend) Connect(ctx context.Context, id string) error {
	mac, err := bluetooth.ParseMAC(id)
	if err != nil {
		return Errf(CodeConnectFailed, "connect", "parse address %q: %v", id, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	// tinygo's Connect blocks with its own internal timeout; wrap it so
	// our ctx deadline also applies.
	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{device, err}
	}()

	select {
	case <-ctx.Done():
		return Errf(CodeConnectFailed, "connect", "connect to %s: %v", id, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return Wrap(CodeConnectFailed, "connect", res.err)
		}
		b.mu.Lock()
		b.device = res.device
		b.deviceID = id
		b.connected = true
		b.chars = make(map[string]bluetooth.DeviceCharacteristic)
		b.mu.Unlock()
		return nil
	}
}

func (b *Backend) DiscoverServices(id string) ([]string, error) {
	device, err := b.connectedDevice(id, "discover-services", CodeServiceNotFound)
	if err != nil {
		return nil, err
	}

	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, Wrap(CodeServiceNotFound, "discover-services", err)
	}

	uuids := make([]string, 0, len(services))
	for _, service := range services {
		uuids = append(uuids, service.UUID().String())
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			logger.Warn("[BLE] characteristic discovery on %s: %v", service.UUID().String(), err)
			continue
		}
		b.mu.Lock()
		for _, char := range chars {
			b.chars[strings.ToLower(char.UUID().String())] = char
		}
		b.mu.Unlock()
	}
	return uuids, nil
}

func (b *Backend) StartNotify(id, serviceUUID, charUUID string) error {
	char, err := b.characteristic(charUUID, "start-notify", CodeNotifySubscribeFailed)
	if err != nil {
		return err
	}

	uuid := strings.ToLower(charUUID)
	if err := char.EnableNotifications(func(value []byte) {
		b.raiseValueChanged(uuid, value)
	}); err != nil {
		// tinygo's notification path is unreliable on some BlueZ
		// versions; fall back to the D-Bus side channel before failing.
		if bz := b.bluezNotifier(); bz != nil {
			if derr := bz.Subscribe(id, uuid, func(value []byte) {
				b.raiseValueChanged(uuid, value)
			}); derr == nil {
				logger.Info("[BLE] notifications via BlueZ D-Bus for %s", uuid)
				b.setNotifying(true)
				return nil
			}
		}
		return Wrap(CodeNotifySubscribeFailed, "start-notify", err)
	}
	b.setNotifying(true)
	return nil
}

func (b *Backend) StopNotify(id, serviceUUID, charUUID string) error {
	b.mu.Lock()
	notifying := b.notifying
	b.notifying = false
	bz := b.bluez
	b.mu.Unlock()

	if !notifying {
		return nil
	}
	if bz != nil {
		bz.Unsubscribe(strings.ToLower(charUUID))
	}
	if char, err := b.characteristic(charUUID, "stop-notify", CodeNotifySubscribeFailed); err == nil {
		// Disabling notifications on a dead link fails; idempotent by contract.
		char.EnableNotifications(nil)
	}
	return nil
}

func (b *Backend) Read(id, serviceUUID, charUUID string) ([]byte, error) {
	char, err := b.characteristic(charUUID, "read", CodeReadFailed)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := char.Read(buf)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{buf[:n], nil}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, Wrap(CodeReadFailed, "read", res.err)
		}
		return res.data, nil
	case <-time.After(b.opTimeout):
		return nil, Errf(CodeReadFailed, "read", "read %s timed out", charUUID)
	}
}

func (b *Backend) Write(id, serviceUUID, charUUID string, value []byte) error {
	char, err := b.characteristic(charUUID, "write", CodeWriteFailed)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	go func() {
		_, werr := char.WriteWithoutResponse(value)
		ch <- werr
	}()

	select {
	case werr := <-ch:
		if werr != nil {
			return Wrap(CodeWriteFailed, "write", werr)
		}
		return nil
	case <-time.After(b.opTimeout):
		return Errf(CodeWriteFailed, "write", "write %s timed out", charUUID)
	}
}

func (b *Backend) Disconnect(id string) error {
	b.mu.Lock()
	connected := b.connected
	device := b.device
	b.connected = false
	b.deviceID = ""
	b.chars = make(map[string]bluetooth.DeviceCharacteristic)
	b.mu.Unlock()

	if !connected {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		// Disconnecting an already-dropped link is not a reportable failure.
		logger.Debug("[BLE] disconnect %s: %v", id, err)
	}
	return nil
}

// UseBlueZNotifier attaches the D-Bus notification fallback. Optional;
// only meaningful on Linux/BlueZ hosts.
func (b *Backend) UseBlueZNotifier(bz *BlueZNotifier) {
	b.mu.Lock()
	b.bluez = bz
	b.mu.Unlock()
}

func (b *Backend) bluezNotifier() *BlueZNotifier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bluez
}

func (b *Backend) setNotifying(v bool) {
	b.mu.Lock()
	b.notifying = v
	b.mu.Unlock()
}

func (b *Backend) connectedDevice(id, op string, code Code) (bluetooth.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected || b.deviceID != id {
		return bluetooth.Device{}, Errf(code, op, "not connected to %s", id)
	}
	return b.device, nil
}

func (b *Backend) characteristic(charUUID, op string, code Code) (bluetooth.DeviceCharacteristic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	char, ok := b.chars[strings.ToLower(charUUID)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, Errf(code, op, "characteristic %s not discovered", charUUID)
	}
	return char, nil
}

// ---- Events ----

func (b *Backend) OnAdvertisement(fn func(Advertisement)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs.adv[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs.adv, id)
		b.mu.Unlock()
	}
}

func (b *Backend) OnValueChanged(fn func(string, []byte)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs.value[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs.value, id)
		b.mu.Unlock()
	}
}

func (b *Backend) OnDisconnected(fn func(string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs.disc[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs.disc, id)
		b.mu.Unlock()
	}
}

func (b *Backend) raiseAdvertisement(adv Advertisement) {
	b.mu.Lock()
	fns := make([]func(Advertisement), 0, len(b.subs.adv))
	for _, fn := range b.subs.adv {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(adv)
	}
}

func (b *Backend) raiseValueChanged(charUUID string, value []byte) {
	b.mu.Lock()
	fns := make([]func(string, []byte), 0, len(b.subs.value))
	for _, fn := range b.subs.value {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	for _, fn := range fns {
		fn(charUUID, cp)
	}
}

func (b *Backend) raiseDisconnected(id string) {
	b.mu.Lock()
	fns := make([]func(string), 0, len(b.subs.disc))
	for _, fn := range b.subs.disc {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

var _ Ops = (*Backend)(nil)
var _ Events = (*Backend)(nil)

func init() {
	// Fail fast if the compiled-in profile constants are malformed.
	for _, u := range []string{ServiceUUID, ButtonCharUUID, LEDCharUUID} {
		if _, err := bluetooth.ParseUUID(u); err != nil {
			panic(fmt.Sprintf("peripheral: bad profile uuid %q: %v", u, err))
		}
	}
}
