// Package protocol defines the payloads carried inside encrypted envelopes.
// Inbound payloads are decoded once into a Message variant; consumers
// switch on the concrete type.
package protocol

import "time"

// Type is the "type" discriminator of every payload.
type Type string

const (
	TypeConnect    Type = "connect"
	TypeContact    Type = "contact"
	TypeCallResult Type = "callResult"
	TypeCallRecord Type = "callRecord"
	TypeDisconnect Type = "disconnect"
)

// Message is implemented by Connect, Contact, CallResult, CallRecord,
// Disconnect and Unknown.
type Message interface {
	Type() Type
}

// Connect is the liveness handshake sent whenever a leg opens. A Connect
// without Ack asks the peer to answer with an acknowledged Connect.
type Connect struct {
	Ack bool `json:"ack,omitempty"`
}

// ContactDetails is one person to call.
type ContactDetails struct {
	FirstName        string            `json:"firstName"`
	LastName         string            `json:"lastName,omitempty"`
	PhoneNumber      string            `json:"phoneNumber"`
	AdditionalFields map[string]string `json:"additionalFields,omitempty"`
}

// MessageTemplate is a canned text message offered next to a contact.
type MessageTemplate struct {
	Label            string `json:"label"`
	Message          string `json:"message"`
	SendTextedResult bool   `json:"sendTextedResult,omitempty"`
}

// Stats are the caller's session counters. Times are Unix milliseconds.
type Stats struct {
	Calls               int   `json:"calls"`
	SuccessfulCalls     int   `json:"successfulCalls"`
	StartTime           int64 `json:"startTime,omitempty"`
	LastContactLoadTime int64 `json:"lastContactLoadTime,omitempty"`
}

// Contact carries the current contact plus the session context the phone
// needs to render it.
type Contact struct {
	Contact          *ContactDetails   `json:"contact,omitempty"`
	YourName         string            `json:"yourName,omitempty"`
	MessageTemplates []MessageTemplate `json:"messageTemplates,omitempty"`
	ResultCodes      []string          `json:"resultCodes,omitempty"`
	Stats            *Stats            `json:"stats,omitempty"`
	LastCallResult   string            `json:"lastCallResult,omitempty"`
	CallNumber       *int              `json:"callNumber,omitempty"`
	ExtensionVersion string            `json:"extensionVersion,omitempty"`
}

// CallResult reports the outcome the caller picked for a call.
type CallResult struct {
	Result     string    `json:"result"`
	CallNumber int       `json:"callNumber"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallRecord reports when a call started (Unix ms) and how long it lasted (ms).
type CallRecord struct {
	Timestamp  int64 `json:"timestamp"`
	CallNumber int   `json:"callNumber"`
	Duration   int64 `json:"duration"`
}

// Disconnect tells the peer the sender is going away on purpose.
type Disconnect struct{}

// Unknown is any well-formed payload whose type this side does not model.
// Raw holds the complete object, including its type field.
type Unknown struct {
	Kind Type
	Raw  []byte
}

func (Connect) Type() Type    { return TypeConnect }
func (Contact) Type() Type    { return TypeContact }
func (CallResult) Type() Type { return TypeCallResult }
func (CallRecord) Type() Type { return TypeCallRecord }
func (Disconnect) Type() Type { return TypeDisconnect }
func (u Unknown) Type() Type  { return u.Kind }
