// Package bridge subscribes to the peripheral backend's push events and
// translates them into lifecycle machine inputs. It keeps no state of
// its own: no buffering, no deduplication, delivery in arrival order.
package bridge

import (
	"strings"
	"sync"

	"buttonlink/internal/lifecycle"
	"buttonlink/internal/peripheral"
)

// Bridge forwards advertisement, value-change and disconnect events from
// the backend into the machine's input queue.
type Bridge struct {
	events  peripheral.Events
	machine *lifecycle.Machine

	mu     sync.Mutex
	unsubs []func()
}

func New(events peripheral.Events, machine *lifecycle.Machine) *Bridge {
	return &Bridge{events: events, machine: machine}
}

// Start subscribes to the three event categories. Call once; Stop
// releases the subscriptions.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubs != nil {
		return
	}

	b.unsubs = []func(){
		b.events.OnAdvertisement(func(adv peripheral.Advertisement) {
			b.machine.AdvertisementSeen(adv)
		}),
		b.events.OnValueChanged(func(charUUID string, value []byte) {
			// Only the button characteristic is interesting here; any
			// other characteristic traffic is dropped at this layer.
			if !strings.EqualFold(charUUID, peripheral.ButtonCharUUID) {
				return
			}
			b.machine.ButtonChanged(peripheral.ButtonPressed(value))
		}),
		b.events.OnDisconnected(func(id string) {
			b.machine.PeerDisconnected(id)
		}),
	}
}

// Stop invokes the unsubscribe handles. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
