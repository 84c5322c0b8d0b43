// Register map of the STM32 F1/F2/F4 I2C peripheral and the access
// shim the transaction engine uses to reach it.
package core

// RegisterBus is the abstract register access interface that core code uses.
// Implementations exist for memory-mapped hardware (targets/stm32), a
// serial-attached debug probe (host/bridge) and the in-memory controller
// model used by the tests.
type RegisterBus interface {
	// ReadRegister returns the 16-bit register at the given offset.
	ReadRegister(offset uint8) uint16

	// WriteRegister stores a 16-bit value at the given offset.
	WriteRegister(offset uint8, value uint16)
}

// Register offsets from the peripheral base address.
const (
	RegCR1   uint8 = 0x00 // Control register 1
	RegCR2   uint8 = 0x04 // Control register 2
	RegOAR1  uint8 = 0x08 // Own address register 1
	RegOAR2  uint8 = 0x0C // Own address register 2
	RegDR    uint8 = 0x10 // Data register
	RegSR1   uint8 = 0x14 // Status register 1
	RegSR2   uint8 = 0x18 // Status register 2
	RegCCR   uint8 = 0x1C // Clock control register
	RegTRISE uint8 = 0x20 // Maximum rise time register
)

// CR1 bits
const (
	cr1PE    uint16 = 0x0001 // Peripheral enable
	cr1Start uint16 = 0x0100 // START generation
	cr1Stop  uint16 = 0x0200 // STOP generation
	cr1Ack   uint16 = 0x0400 // Acknowledge enable
	cr1Pos   uint16 = 0x0800 // Acknowledge/PEC position (2-byte reception)
	cr1PEC   uint16 = 0x1000 // Packet error checking transfer
	cr1SwRst uint16 = 0x8000 // Software reset
)

// CR2 bits
const (
	cr2FreqMask uint16 = 0x003F // Peripheral clock frequency field (MHz)
	cr2ITErrEn  uint16 = 0x0100 // Error interrupt enable
	cr2ITEvtEn  uint16 = 0x0200 // Event interrupt enable
	cr2ITBufEn  uint16 = 0x0400 // Buffer interrupt enable

	cr2AllInts = cr2ITErrEn | cr2ITEvtEn | cr2ITBufEn
)

// SR1 bits
const (
	sr1SB      uint16 = 0x0001 // Start bit sent (master)
	sr1Addr    uint16 = 0x0002 // Address sent/matched
	sr1BTF     uint16 = 0x0004 // Byte transfer finished
	sr1Add10   uint16 = 0x0008 // 10-bit header sent
	sr1StopF   uint16 = 0x0010 // Stop detected (slave)
	sr1RxNE    uint16 = 0x0040 // Receive buffer not empty
	sr1TxE     uint16 = 0x0080 // Transmit buffer empty
	sr1Berr    uint16 = 0x0100 // Bus error
	sr1Arlo    uint16 = 0x0200 // Arbitration lost
	sr1AF      uint16 = 0x0400 // Acknowledge failure
	sr1Ovr     uint16 = 0x0800 // Overrun/underrun
	sr1PECErr  uint16 = 0x1000 // PEC error in reception
	sr1Timeout uint16 = 0x4000 // Timeout or Tlow error
	sr1SMBAl   uint16 = 0x8000 // SMBus alert

	sr1ErrorMask = sr1Berr | sr1Arlo | sr1AF | sr1Ovr |
		sr1PECErr | sr1Timeout | sr1SMBAl
)

// SR2 bits, shifted left 16 in the combined status word.
const (
	sr2MSL  uint16 = 0x0001 // Master/slave
	sr2Busy uint16 = 0x0002 // Bus busy
	sr2Tra  uint16 = 0x0004 // Transmitter/receiver
)

// CCR bits
const (
	ccrMask uint16 = 0x0FFF // Clock control field
	ccrDuty uint16 = 0x4000 // Fast mode duty cycle 16/9
	ccrFS   uint16 = 0x8000 // Fast mode selection
)

// Bit 14 of OAR1 must be configured and kept at 1.
const oar1One uint16 = 0x4000

// modifyReg clears then sets bits in a 16-bit register.
func (c *Controller) modifyReg(offset uint8, clearbits, setbits uint16) {
	v := c.bus.ReadRegister(offset)
	c.bus.WriteRegister(offset, (v&^clearbits)|setbits)
}

// getStatus returns the 32-bit combined status (SR2<<16 | SR1). Reading SR2
// clears a pending address-matched condition, so this is only used where
// that side effect is wanted or irrelevant.
func (c *Controller) getStatus() uint32 {
	status := uint32(c.bus.ReadRegister(RegSR1))
	status |= uint32(c.bus.ReadRegister(RegSR2)) << 16
	return status
}

// sendStart disables ACK on receive by default and generates START.
func (c *Controller) sendStart() {
	c.modifyReg(RegCR1, cr1Ack, cr1Start)
}

// sendStop generates a STOP condition.
func (c *Controller) sendStop() {
	c.modifyReg(RegCR1, cr1Ack, cr1Stop)
}

// clrStart clears a pending STOP, START or PEC request. The hardware
// forbids writing CR1 while one of these bits is set: a new request could
// be doubled. If the hardware never acknowledged the old request the bits
// have to be cleared by software before the controller is reused.
func (c *Controller) clrStart() {
	c.modifyReg(RegCR1, cr1Start|cr1Stop|cr1PEC, 0)
}
