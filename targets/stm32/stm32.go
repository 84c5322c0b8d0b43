//go:build tinygo

// Package stm32 binds the transaction engine to the memory-mapped I2C
// controllers of STM32 F1/F2/F4 parts under TinyGo, including routing the
// event and error interrupt lines into the service routine.
//
// Enabling the peripheral clock in RCC and multiplexing the SCL/SDA pins
// is the board setup's job and must happen before the controller is
// created.
package stm32

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"stmi2c/core"
)

// Peripheral base addresses and NVIC interrupt numbers. Identical across
// the F1, F2 and F4 families.
const (
	i2c1Base uintptr = 0x40005400
	i2c2Base uintptr = 0x40005800

	irqI2C1EV = 31
	irqI2C1ER = 32
	irqI2C2EV = 33
	irqI2C2ER = 34
)

// mmioBus is the memory-mapped core.RegisterBus. The registers are
// 16 bits wide on a 32-bit bus, accessed as words with the upper half
// reading as zero.
type mmioBus struct {
	base uintptr
}

func (b mmioBus) ReadRegister(offset uint8) uint16 {
	r := (*volatile.Register32)(unsafe.Pointer(b.base + uintptr(offset)))
	return uint16(r.Get())
}

func (b mmioBus) WriteRegister(offset uint8, value uint16) {
	r := (*volatile.Register32)(unsafe.Pointer(b.base + uintptr(offset)))
	r.Set(uint32(value))
}

var (
	i2c1 *core.Controller
	i2c2 *core.Controller
)

// I2C1 creates the controller for the first I2C peripheral. Unless the
// configuration selects polled operation, both of its interrupt lines are
// attached and enabled.
func I2C1(cfg core.Config) (*core.Controller, error) {
	c, err := core.NewController(mmioBus{i2c1Base}, cfg)
	if err != nil {
		return nil, err
	}
	i2c1 = c

	if !cfg.Polled {
		interrupt.New(irqI2C1EV, handleI2C1).Enable()
		interrupt.New(irqI2C1ER, handleI2C1).Enable()
	}
	return c, nil
}

// I2C2 creates the controller for the second I2C peripheral.
func I2C2(cfg core.Config) (*core.Controller, error) {
	c, err := core.NewController(mmioBus{i2c2Base}, cfg)
	if err != nil {
		return nil, err
	}
	i2c2 = c

	if !cfg.Polled {
		interrupt.New(irqI2C2EV, handleI2C2).Enable()
		interrupt.New(irqI2C2ER, handleI2C2).Enable()
	}
	return c, nil
}

func handleI2C1(interrupt.Interrupt) {
	if i2c1 != nil {
		i2c1.ServiceInterrupt()
	}
}

func handleI2C2(interrupt.Interrupt) {
	if i2c2 != nil {
		i2c2.ServiceInterrupt()
	}
}
