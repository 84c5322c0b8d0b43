package core

// Msg flag bits. Values match the classic i2c_msg_s flags so captures from
// other tooling line up.
const (
	// FlagRead marks a message as a read from the target into Buffer.
	FlagRead uint16 = 0x0001

	// FlagTenBit selects 10-bit addressing for the message.
	FlagTenBit uint16 = 0x0002

	// FlagNoRestart chains this message to the previous one without a
	// repeated START, continuing the same bus ownership.
	FlagNoRestart uint16 = 0x0080
)

// Msg is one message of a transfer: an address, direction/modifier flags
// and a data buffer. The caller owns the buffer; the engine borrows it for
// the duration of the transaction and, for reads, fills it in place. The
// message itself is never modified.
type Msg struct {
	Addr   uint16 // Target address (7-bit unless FlagTenBit)
	Flags  uint16 // Direction and modifier flags
	Buffer []byte // Data to send, or space to receive into
}
