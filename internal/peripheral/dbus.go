package peripheral

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"buttonlink/internal/logger"
)

// BlueZNotifier delivers characteristic notifications straight from the
// BlueZ system bus. It exists because tinygo-org/bluetooth's notification
// path is broken on some BlueZ versions; the backend falls back to this
// channel when EnableNotifications fails.
type BlueZNotifier struct {
	conn *dbus.Conn

	mu        sync.Mutex
	signalCh  chan *dbus.Signal
	stopCh    chan struct{}
	running   bool
	charPaths map[string]dbus.ObjectPath // char UUID -> object path
	callbacks map[string]func([]byte)    // char UUID -> callback
	notifyFDs map[string]*os.File        // char UUID -> AcquireNotify fd
}

// NewBlueZNotifier connects to the system bus. Returns an error on
// non-BlueZ hosts; callers treat the notifier as optional.
func NewBlueZNotifier() (*BlueZNotifier, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: system bus: %w", err)
	}
	return &BlueZNotifier{
		conn:      conn,
		signalCh:  make(chan *dbus.Signal, 64),
		stopCh:    make(chan struct{}),
		charPaths: make(map[string]dbus.ObjectPath),
		callbacks: make(map[string]func([]byte)),
		notifyFDs: make(map[string]*os.File),
	}, nil
}

// Subscribe starts notification delivery for one characteristic of the
// given device. AcquireNotify is preferred (exclusive fd, no Value
// property polling); StartNotify plus PropertiesChanged signals is the
// fallback.
func (n *BlueZNotifier) Subscribe(deviceID, charUUID string, callback func([]byte)) error {
	path, err := n.findCharacteristicPath(deviceID, charUUID)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("bluez: characteristic %s not found for %s", charUUID, deviceID)
	}

	n.mu.Lock()
	n.charPaths[charUUID] = path
	n.callbacks[charUUID] = callback
	n.mu.Unlock()

	obj := n.conn.Object("org.bluez", path)

	var fd dbus.UnixFD
	var mtu uint16
	call := obj.Call("org.bluez.GattCharacteristic1.AcquireNotify", 0, map[string]dbus.Variant{})
	if call.Err == nil {
		if err := call.Store(&fd, &mtu); err != nil {
			return fmt.Errorf("bluez: acquire-notify result: %w", err)
		}
		file := os.NewFile(uintptr(fd), "ble-notify-"+charUUID)
		n.mu.Lock()
		n.notifyFDs[charUUID] = file
		n.mu.Unlock()
		go n.readFromFD(charUUID, file)
		logger.Debug("[BLE-DBus] AcquireNotify on %s: fd=%d mtu=%d", charUUID, fd, mtu)
		return nil
	}
	logger.Debug("[BLE-DBus] AcquireNotify failed for %s: %v, trying StartNotify", charUUID, call.Err)

	call = obj.Call("org.bluez.GattCharacteristic1.StartNotify", 0)
	if call.Err != nil && !strings.Contains(call.Err.Error(), "Already notifying") {
		return fmt.Errorf("bluez: start-notify %s: %w", charUUID, call.Err)
	}

	rule := fmt.Sprintf("type='signal',sender='org.bluez',path='%s',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'", path)
	if c := n.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); c.Err != nil {
		return fmt.Errorf("bluez: add match: %w", c.Err)
	}

	n.mu.Lock()
	if !n.running {
		n.running = true
		n.conn.Signal(n.signalCh)
		go n.processSignals()
	}
	n.mu.Unlock()
	return nil
}

// Unsubscribe stops delivery for one characteristic. Idempotent.
func (n *BlueZNotifier) Unsubscribe(charUUID string) {
	n.mu.Lock()
	path, hadPath := n.charPaths[charUUID]
	file := n.notifyFDs[charUUID]
	delete(n.charPaths, charUUID)
	delete(n.callbacks, charUUID)
	delete(n.notifyFDs, charUUID)
	n.mu.Unlock()

	if file != nil {
		file.Close()
	}
	if hadPath {
		obj := n.conn.Object("org.bluez", path)
		if call := obj.Call("org.bluez.GattCharacteristic1.StopNotify", 0); call.Err != nil {
			logger.Debug("[BLE-DBus] stop-notify %s: %v", charUUID, call.Err)
		}
	}
}

// Close tears down all subscriptions and the signal pump.
func (n *BlueZNotifier) Close() {
	n.mu.Lock()
	uuids := make([]string, 0, len(n.charPaths))
	for uuid := range n.charPaths {
		uuids = append(uuids, uuid)
	}
	running := n.running
	n.running = false
	n.mu.Unlock()

	for _, uuid := range uuids {
		n.Unsubscribe(uuid)
	}
	if running {
		close(n.stopCh)
	}
}

// findCharacteristicPath walks the BlueZ object tree for the
// characteristic with the given UUID under the given device.
func (n *BlueZNotifier) findCharacteristicPath(deviceID, charUUID string) (dbus.ObjectPath, error) {
	devicePart := strings.ReplaceAll(strings.ToUpper(deviceID), ":", "_")

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := n.conn.Object("org.bluez", "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return "", fmt.Errorf("bluez: managed objects: %w", err)
	}

	for path, interfaces := range managed {
		if !strings.Contains(string(path), devicePart) {
			continue
		}
		charIface, ok := interfaces["org.bluez.GattCharacteristic1"]
		if !ok {
			continue
		}
		uuidVar, ok := charIface["UUID"]
		if !ok {
			continue
		}
		if uuid, ok := uuidVar.Value().(string); ok && equalUUID(uuid, charUUID) {
			return path, nil
		}
	}
	return "", nil
}

func (n *BlueZNotifier) readFromFD(charUUID string, file *os.File) {
	defer file.Close()
	buf := make([]byte, 512)
	for {
		count, err := file.Read(buf)
		if err != nil {
			logger.Debug("[BLE-DBus] fd reader for %s done: %v", charUUID, err)
			return
		}
		if count == 0 {
			continue
		}
		data := make([]byte, count)
		copy(data, buf[:count])

		n.mu.Lock()
		callback := n.callbacks[charUUID]
		n.mu.Unlock()
		if callback != nil {
			callback(data)
		}
	}
}

func (n *BlueZNotifier) processSignals() {
	for {
		select {
		case <-n.stopCh:
			return
		case signal := <-n.signalCh:
			if signal == nil {
				return
			}
			n.handleSignal(signal)
		}
	}
}

func (n *BlueZNotifier) handleSignal(signal *dbus.Signal) {
	if signal.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(signal.Body) < 2 {
		return
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != "org.bluez.GattCharacteristic1" {
		return
	}
	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	valueVar, ok := changed["Value"]
	if !ok {
		return
	}
	value, ok := valueVar.Value().([]byte)
	if !ok {
		return
	}

	n.mu.Lock()
	var callback func([]byte)
	for uuid, path := range n.charPaths {
		if path == signal.Path {
			callback = n.callbacks[uuid]
			break
		}
	}
	n.mu.Unlock()
	if callback != nil {
		callback(value)
	}
}
