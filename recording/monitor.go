package recording

import (
	"context"
	"time"

	"durablemeet/capture"
	"durablemeet/devices"
)

// DeviceEventKind is the monitor's disconnect/reconnect event type.
type DeviceEventKind int

const (
	EventDisconnected DeviceEventKind = iota
	EventReconnected
)

// DeviceEvent is emitted on a slot's connectivity change.
type DeviceEvent struct {
	Type DeviceEventKind
	Name string
	Kind devices.Kind
	Slot Slot
}

// Slot identifies which capture slot a monitor watches.
type Slot int

const (
	SlotMic Slot = iota
	SlotSystem
)

const (
	monitorPollInterval = 500 * time.Millisecond
	monitorMaxBackoff   = 5 * time.Second
)

// Monitor polls device availability for one slot (mic or system), driving
// Reconnecting<->Recording transitions on the shared State. When a
// matching device reappears it marks the state reconnected and publishes
// the event; it does not reopen or swap the slot's stream on the
// capture.Manager. Modeled
// (pattern only) on the ticker+context polling loop used for process
// resource monitoring elsewhere in the pack.
type Monitor struct {
	slot     Slot
	registry *devices.Registry
	streams  *capture.Manager
	state    *State

	deviceName string
	kind       devices.Kind

	events chan DeviceEvent
}

// NewMonitor builds a monitor for one slot, watching deviceName.
func NewMonitor(slot Slot, deviceName string, kind devices.Kind, registry *devices.Registry, streams *capture.Manager, state *State) *Monitor {
	return &Monitor{
		slot:       slot,
		registry:   registry,
		streams:    streams,
		state:      state,
		deviceName: deviceName,
		kind:       kind,
		events:     make(chan DeviceEvent, 8),
	}
}

// Events returns the monitor's event channel.
func (m *Monitor) Events() <-chan DeviceEvent { return m.events }

// Run polls until ctx is cancelled or the user stops the session. It does
// not block the caller; run it on its own goroutine.
func (m *Monitor) Run(ctx context.Context, isGone func() bool) {
	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()

	disconnected := false
	backoff := monitorPollInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gone := isGone()

			switch {
			case gone && !disconnected:
				disconnected = true
				backoff = monitorPollInterval
				m.state.Disconnect(m.kind)
				m.publish(DeviceEvent{Type: EventDisconnected, Name: m.deviceName, Kind: m.kind, Slot: m.slot})

			case gone && disconnected:
				// Still gone: back off before the next poll, capped.
				if backoff < monitorMaxBackoff {
					backoff *= 2
					if backoff > monitorMaxBackoff {
						backoff = monitorMaxBackoff
					}
					ticker.Reset(backoff)
				}

			case !gone && disconnected:
				if m.reattach() {
					disconnected = false
					ticker.Reset(monitorPollInterval)
					m.state.Reconnect()
					m.publish(DeviceEvent{Type: EventReconnected, Name: m.deviceName, Kind: m.kind, Slot: m.slot})
				}
			}
		}
	}
}

// reattach re-enumerates devices and matches the slot's device by
// normalized name, per §4.7's reconnect contract. Returns false if no
// matching device is present yet.
func (m *Monitor) reattach() bool {
	all, err := m.registry.List()
	if err != nil {
		return false
	}
	for _, d := range all {
		if devices.Friendly(d.Name) == devices.Friendly(m.deviceName) {
			return true
		}
	}
	return false
}

func (m *Monitor) publish(evt DeviceEvent) {
	select {
	case m.events <- evt:
	default:
	}
}

// deviceGone reports whether no currently enumerated device matches name
// under friendly-name normalization. Used as the isGone predicate driving
// Run's disconnect/reconnect polling.
func deviceGone(registry *devices.Registry, name string) bool {
	all, err := registry.List()
	if err != nil {
		return false
	}
	for _, d := range all {
		if devices.Friendly(d.Name) == devices.Friendly(name) {
			return false
		}
	}
	return true
}
