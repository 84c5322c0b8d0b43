package core

// Dev is one logical device on the bus: a controller plus a slave
// address and bus frequency. Creating a Dev is cheap and any number may
// share a controller; the controller serializes their transfers.
type Dev struct {
	c     *Controller
	freq  uint32
	addr  uint16
	flags uint16
}

// NewDev binds a device at the given 7-bit address to the controller at
// standard-mode speed. Use SetFrequency for fast mode.
func NewDev(c *Controller, addr uint16) *Dev {
	return &Dev{
		c:    c,
		freq: StandardModeFrequency,
		addr: addr,
	}
}

// SetFrequency sets the bus frequency used for this device's transfers.
// Fast mode needs a peripheral clock of at least 4 MHz; below that the
// frequency is capped at standard mode.
func (d *Dev) SetFrequency(frequency uint32) {
	if d.c.cfg.PeripheralClock < 4000000 && frequency > StandardModeFrequency {
		frequency = StandardModeFrequency
	}
	d.freq = frequency
}

// SetAddress changes the slave address used for this device's transfers.
func (d *Dev) SetAddress(addr uint16) {
	d.addr = addr
}

// SetTenBit selects 10-bit addressing for this device's transfers. The
// address set with SetAddress or NewDev is then taken as a 10-bit one.
func (d *Dev) SetTenBit(tenbit bool) {
	if tenbit {
		d.flags |= FlagTenBit
	} else {
		d.flags &^= FlagTenBit
	}
}

// Write sends buf to the device in a single write transaction.
func (d *Dev) Write(buf []byte) error {
	return d.c.Transfer(d.freq, []Msg{
		{Addr: d.addr, Flags: d.flags, Buffer: buf},
	})
}

// Read fills buf from the device in a single read transaction.
func (d *Dev) Read(buf []byte) error {
	return d.c.Transfer(d.freq, []Msg{
		{Addr: d.addr, Flags: d.flags | FlagRead, Buffer: buf},
	})
}

// WriteRead sends w, then reads into r after a repeated START. This is
// the usual register-pointer-then-data shape of most I2C devices.
func (d *Dev) WriteRead(w, r []byte) error {
	return d.c.Transfer(d.freq, []Msg{
		{Addr: d.addr, Flags: d.flags, Buffer: w},
		{Addr: d.addr, Flags: d.flags | FlagRead, Buffer: r},
	})
}

// Transfer runs an arbitrary message list at this device's frequency.
// Message addresses are taken from the messages, not from the device.
func (d *Dev) Transfer(msgs []Msg) error {
	return d.c.Transfer(d.freq, msgs)
}
