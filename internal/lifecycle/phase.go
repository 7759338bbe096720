package lifecycle

// Kind is the outer phase tag of the lifecycle machine.
type Kind string

const (
	KindIdle       Kind = "idle"
	KindInit       Kind = "init"
	KindScanning   Kind = "scanning"
	KindConnecting Kind = "connecting"
	KindConnected  Kind = "connected"
)

// ConnectedSub is the sub-mode within the connected phase.
type ConnectedSub string

const (
	SubReady         ConnectedSub = "ready"
	SubTogglingLED   ConnectedSub = "togglingLed"
	SubReadingButton ConnectedSub = "readingButton"
	SubDisconnecting ConnectedSub = "disconnecting"
)

// Phase is the machine phase as a tagged variant. Sub is meaningful only
// when Kind is KindConnected; deriving "is connected" is a single match
// on the outer tag.
type Phase struct {
	Kind Kind
	Sub  ConnectedSub
}

func Idle() Phase       { return Phase{Kind: KindIdle} }
func Init() Phase       { return Phase{Kind: KindInit} }
func Scanning() Phase   { return Phase{Kind: KindScanning} }
func Connecting() Phase { return Phase{Kind: KindConnecting} }

func Connected(sub ConnectedSub) Phase {
	return Phase{Kind: KindConnected, Sub: sub}
}

func (p Phase) IsConnected() bool { return p.Kind == KindConnected }

// Is reports whether p is the connected phase with the given sub-mode.
func (p Phase) Is(sub ConnectedSub) bool {
	return p.Kind == KindConnected && p.Sub == sub
}

func (p Phase) String() string {
	if p.Kind == KindConnected {
		return string(p.Kind) + "." + string(p.Sub)
	}
	return string(p.Kind)
}
