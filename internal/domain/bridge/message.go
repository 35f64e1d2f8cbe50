package bridge

import "errors"

// Type is the wire discriminator of a bridge message.
type Type string

const (
	TypeInit          Type = "INIT"
	TypeIDAttribution Type = "ID_ATTRIBUTION"
	TypeNetworkIdle   Type = "NETWORK_IDLE"
	TypeError         Type = "ERROR"
	TypeLog           Type = "BRIDGE_LOG"
)

var (
	// ErrMalformed is returned by Decode for payloads that are not bridge messages.
	ErrMalformed = errors.New("malformed bridge message")
	// ErrProtocolViolation marks inbound messages that were dropped. It is
	// never reported to the sending frame.
	ErrProtocolViolation = errors.New("bridge protocol violation")
	// ErrNotIdentified is returned when a client sends before its handshake completed.
	ErrNotIdentified = errors.New("bridge client not identified")
)

// Message is the closed set of bridge messages.
type Message interface {
	Type() Type
	// Identity returns the page identity carried by the message, "" if absent.
	Identity() string
	isMessage()
}

// SDKSignature describes the spatial SDK a page was built with.
type SDKSignature struct {
	XREnv           string `json:"XR_ENV"`
	CoreSDKVersion  string `json:"core-sdk-version"`
	ReactSDKVersion string `json:"react-sdk-version"`
}

// Init opens the handshake. It never carries an identity.
type Init struct {
	OriginHref   string
	ManifestURL  string
	SDKSignature *SDKSignature
}

// IDAttribution assigns the frame its identity.
type IDAttribution struct {
	ID string
}

// NetworkIdle reports that the frame finished loading.
type NetworkIdle struct {
	ID string
}

// Error reports a failure inside the frame.
type Error struct {
	ID      string
	Message string
	// Data is the raw JSON payload as sent.
	Data []byte
}

// Log forwards a console entry from the frame.
type Log struct {
	ID        string
	Level     string
	Text      string
	Timestamp int64
}

// Unknown carries any other message type verbatim.
type Unknown struct {
	Kind string
	ID   string
	// Data is the raw JSON payload, nil when absent.
	Data []byte
}

func (Init) Type() Type          { return TypeInit }
func (IDAttribution) Type() Type { return TypeIDAttribution }
func (NetworkIdle) Type() Type   { return TypeNetworkIdle }
func (Error) Type() Type         { return TypeError }
func (Log) Type() Type           { return TypeLog }
func (u Unknown) Type() Type     { return Type(u.Kind) }

func (Init) Identity() string            { return "" }
func (m IDAttribution) Identity() string { return m.ID }
func (m NetworkIdle) Identity() string   { return m.ID }
func (m Error) Identity() string         { return m.ID }
func (m Log) Identity() string           { return m.ID }
func (m Unknown) Identity() string       { return m.ID }

func (Init) isMessage()          {}
func (IDAttribution) isMessage() {}
func (NetworkIdle) isMessage()   {}
func (Error) isMessage()         {}
func (Log) isMessage()           {}
func (Unknown) isMessage()       {}
