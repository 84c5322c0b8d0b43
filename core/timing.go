package core

// Bus frequency bounds. Standard mode runs at up to 100 kHz, fast mode at
// up to 400 kHz. Frequencies above MaxFrequency are the caller's problem;
// the divider arithmetic is only documented up to fast mode.
const (
	StandardModeFrequency uint32 = 100000
	MaxFrequency          uint32 = 400000
)

// setClock programs the CCR and TRISE registers for the requested bus
// frequency. The peripheral must be disabled to configure TRISE, so the
// prior enable state is saved and restored around the update.
func (c *Controller) setClock(frequency uint32) {
	cr1 := c.bus.ReadRegister(RegCR1)
	c.bus.WriteRegister(RegCR1, cr1&^cr1PE)

	freqMHz := uint16(c.cfg.PeripheralClock / 1000000)

	var ccr, trise uint16

	if frequency <= StandardModeFrequency {
		// Standard mode: Tlow = Thigh = CCR * Tpclk
		speed := uint16(c.cfg.PeripheralClock / (frequency << 1))
		if speed < 4 {
			// Datasheet minimum for standard mode
			speed = 4
		}

		ccr |= speed
		trise = freqMHz + 1
	} else {
		if c.cfg.Duty16x9 {
			// Fast mode with Tlow/Thigh = 16/9
			speed := uint16(c.cfg.PeripheralClock / (frequency * 25))
			if speed < 1 {
				speed = 1
			}
			ccr |= ccrDuty | ccrFS | speed
		} else {
			// Fast mode with Tlow/Thigh = 2
			speed := uint16(c.cfg.PeripheralClock / (frequency * 3))
			if speed < 1 {
				speed = 1
			}
			ccr |= ccrFS | speed
		}

		// Maximum rise time in fast mode is 300 ns
		trise = uint16((uint32(freqMHz)*300)/1000) + 1
	}

	c.bus.WriteRegister(RegCCR, ccr)
	c.bus.WriteRegister(RegTRISE, trise)

	// Bit 14 of OAR1 must be configured and kept at 1
	c.bus.WriteRegister(RegOAR1, oar1One)

	c.bus.WriteRegister(RegCR1, cr1)
}
