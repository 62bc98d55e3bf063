package v3

import (
	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// ProtocolRevision is the v3 protocol revision carried in the hello
// exchange (major 3, minor 0).
const ProtocolRevision uint16 = 0x0300

// DefaultPort is the TCP port v3 servers listen on.
const DefaultPort = 1735

// ClearAllMagic is the safety magic carried by ClearAllEntries.
const ClearAllMagic uint32 = 0xD06CB27A

// Opcode identifies a v3 message type.
type Opcode uint8

const (
	OpKeepAlive           Opcode = 0x00
	OpClientHello         Opcode = 0x01
	OpProtoUnsup          Opcode = 0x02
	OpServerHelloComplete Opcode = 0x03
	OpServerHello         Opcode = 0x04
	OpClientHelloComplete Opcode = 0x05
	OpEntryAssign         Opcode = 0x10
	OpEntryUpdate         Opcode = 0x11
	OpFlagsUpdate         Opcode = 0x12
	OpEntryDelete         Opcode = 0x13
	OpClearAllEntries     Opcode = 0x14
	OpRPCExecute          Opcode = 0x20
	OpRPCResponse         Opcode = 0x21
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpKeepAlive:
		return "KeepAlive"
	case OpClientHello:
		return "ClientHello"
	case OpProtoUnsup:
		return "ProtoUnsup"
	case OpServerHelloComplete:
		return "ServerHelloComplete"
	case OpServerHello:
		return "ServerHello"
	case OpClientHelloComplete:
		return "ClientHelloComplete"
	case OpEntryAssign:
		return "EntryAssign"
	case OpEntryUpdate:
		return "EntryUpdate"
	case OpFlagsUpdate:
		return "FlagsUpdate"
	case OpEntryDelete:
		return "EntryDelete"
	case OpClearAllEntries:
		return "ClearAllEntries"
	case OpRPCExecute:
		return "RPCExecute"
	case OpRPCResponse:
		return "RPCResponse"
	default:
		return "Unknown"
	}
}

// v3 value type tags.
const (
	tagBoolean      uint8 = 0x00
	tagDouble       uint8 = 0x01
	tagString       uint8 = 0x02
	tagRaw          uint8 = 0x03
	tagBooleanArray uint8 = 0x10
	tagDoubleArray  uint8 = 0x11
	tagStringArray  uint8 = 0x12
	tagRPCDef       uint8 = 0x20
)

// Message is a decoded v3 protocol message. The concrete types below
// form the closed set; decoding never yields anything else.
type Message interface {
	Opcode() Opcode
}

// KeepAlive is the heartbeat message. Either side may send it.
type KeepAlive struct{}

func (KeepAlive) Opcode() Opcode { return OpKeepAlive }

// ClientHello opens the handshake.
type ClientHello struct {
	ProtoRev uint16
	Identity string
}

func (ClientHello) Opcode() Opcode { return OpClientHello }

// ProtoUnsup is the server's rejection of an unsupported revision.
type ProtoUnsup struct {
	SupportedRev uint16
}

func (ProtoUnsup) Opcode() Opcode { return OpProtoUnsup }

// ServerHello is the server's handshake reply.
type ServerHello struct {
	// Flags bit 0: client has connected to this server before.
	Flags    uint8
	Identity string
}

func (ServerHello) Opcode() Opcode { return OpServerHello }

// ServerHelloComplete is the sentinel terminating the server's entry
// snapshot.
type ServerHelloComplete struct{}

func (ServerHelloComplete) Opcode() Opcode { return OpServerHelloComplete }

// ClientHelloComplete terminates the client side of the handshake.
type ClientHelloComplete struct{}

func (ClientHelloComplete) Opcode() Opcode { return OpClientHelloComplete }

// EntryAssign announces an entry together with its current value.
type EntryAssign struct {
	Name  string
	ID    uint16
	Seq   SequenceNumber
	Flags uint8
	// IsRPC marks an RPC definition entry (v3 type tag 0x20). The
	// value is carried as raw bytes.
	IsRPC bool
	Value nt.Value
}

func (EntryAssign) Opcode() Opcode { return OpEntryAssign }

// EntryUpdate carries a new value for an assigned entry.
type EntryUpdate struct {
	ID    uint16
	Seq   SequenceNumber
	Value nt.Value
}

func (EntryUpdate) Opcode() Opcode { return OpEntryUpdate }

// FlagsUpdate changes an entry's flags byte.
type FlagsUpdate struct {
	ID    uint16
	Flags uint8
}

func (FlagsUpdate) Opcode() Opcode { return OpFlagsUpdate }

// EntryDelete removes a single entry.
type EntryDelete struct {
	ID uint16
}

func (EntryDelete) Opcode() Opcode { return OpEntryDelete }

// ClearAllEntries removes every entry. Ignored unless Magic matches
// ClearAllMagic.
type ClearAllEntries struct {
	Magic uint32
}

func (ClearAllEntries) Opcode() Opcode { return OpClearAllEntries }

// RPCExecute invokes an RPC entry. Params is an opaque blob interpreted
// by the handler.
type RPCExecute struct {
	ID       uint16
	UniqueID uint16
	Params   []byte
}

func (RPCExecute) Opcode() Opcode { return OpRPCExecute }

// RPCResponse answers an RPCExecute with the matching UniqueID.
type RPCResponse struct {
	ID       uint16
	UniqueID uint16
	Result   []byte
}

func (RPCResponse) Opcode() Opcode { return OpRPCResponse }
