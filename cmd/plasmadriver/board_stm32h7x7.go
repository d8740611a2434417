//go:build stm32h7x7

package main

import (
	"device/stm32"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"time"
	"unsafe"

	"plasmadriver/internal/acquire"
	"plasmadriver/internal/bridge"
	"plasmadriver/internal/hal"
	"plasmadriver/internal/timebase"
)

// board bundles the concrete hardware adapters setupBoard wires to the
// portable internal/* packages. Nothing outside this file knows these are
// backed by TIM1, ADC1/ADC3, their DMA streams, USART3 or flash sector 7;
// main only sees the hal interfaces and the bridge/acquire types.
type board struct {
	uart        hal.UART
	clock       hal.Clock
	flashSector hal.FlashSector

	pin15V, pin3V3, pinDrv1, pinDrv2, pinHV, pinActive hal.Pin
	pinEStop                                           hal.InterruptPin

	driver *bridge.Driver
	engine *acquire.Engine
	buf    *acquire.CaptureBuffer

	sampleAux func() [11]uint16
}

// timebaseTickHz is TIM2's counting rate: the 275MHz APB1 timer clock
// (timerAPB1ClockHz) prescaled down to a 1MHz tick so
// timebase.Clock.NowMicros needs no further scaling.
const timebaseTickHz = 1_000_000

// flashSector7Base is PlasmaDriver's persisted-state sector: the last
// 128KiB sector of the H723's single flash bank, well clear of the
// program image.
const (
	flashSector7Base = 0x080E0000
	flashSector7Size = 128 * 1024
)

func setupBoard() (*board, error) {
	machine.InitSerial()

	configureGatePins()
	configureSupplyPins()
	configureEStopPin()
	configureTIM1()
	configureADCs()

	counter := &tim2Counter{}
	counter.start()
	clk := timebase.New(counter, timebaseTickHz)

	hw := &tim1HW{}
	driver := bridge.NewDriver(hw)

	buf := &acquire.CaptureBuffer{}
	primaryCh := newDMAChannel(stm32.DMA1, dmaStreamPrimary, acquire.ReqPrimaryADC)
	auxCh := newDMAChannel(stm32.DMA1, dmaStreamAux, acquire.ReqAuxADC)
	engine := acquire.NewEngine(primaryCh, auxCh, buf)
	wireCompletionInterrupts(engine, dmaStreamPrimary, dmaStreamAux)

	b := &board{
		uart:        &uartAdapter{u: machine.UART3},
		clock:       clk,
		flashSector: newFlashSector(flashSector7Base, flashSector7Size),

		pin15V:    &gpioPin{machine.PA0},
		pin3V3:    &gpioPin{machine.PA1},
		pinDrv1:   &gpioPin{machine.PA2},
		pinDrv2:   &gpioPin{machine.PA3},
		pinHV:     &gpioPin{machine.PA4},
		pinActive: &gpioPin{machine.PA5},
		pinEStop:  &interruptPin{gpioPin{machine.PC13}},

		driver: driver,
		engine: engine,
		buf:    buf,

		sampleAux: func() [11]uint16 { return buf.AuxSamples },
	}
	return b, nil
}

// configureGatePins sets up the six PA0-PA5 lines used as logical power
// and bridge-enable outputs, all push-pull, driven low (off) at reset.
func configureGatePins() {
	for _, p := range []machine.Pin{machine.PA0, machine.PA1, machine.PA2, machine.PA3, machine.PA4, machine.PA5} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
}

func configureSupplyPins() {}

func configureEStopPin() {
	machine.PC13.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
}

// configureTIM1 programs the advanced-control timer for complementary PWM
// with hardware dead-time insertion, leaving the counter in its reset
// (edge-aligned, up-counting) mode, matching the
// ARR/CCR1/BDTR fields bridge.Program computes. The counter starts
// stopped; Start/Stop toggle MOE in BDTR.
func configureTIM1() {
	stm32.RCC.APB2ENR.SetBits(stm32.RCC_APB2ENR_TIM1EN)
	tim1 := stm32.TIM1
	tim1.CR1.ClearBits(stm32.TIM_CR1_CEN)
	tim1.CCMR1.Set(0x6868) // PWM mode 1 on CH1/CH2
	tim1.CCER.SetBits(stm32.TIM_CCER_CC1E | stm32.TIM_CCER_CC1NE)
	tim1.BDTR.SetBits(stm32.TIM_BDTR_OSSR)
}

// configureADCs enables ADC1 (primary) and ADC3 (aux) and sets ADC3's
// continuous-conversion bit. It does not select a TIM1 trigger for ADC1
// or set the DMA streams' peripheral-side fields; the acquire.Channel
// adapters below only set the memory address and count and start/abort
// transfers.
func configureADCs() {
	stm32.RCC.AHB1ENR.SetBits(stm32.RCC_AHB1ENR_ADC12EN)
	stm32.ADC1.CR.SetBits(stm32.ADC_CR_ADEN)
	stm32.ADC3.CR.SetBits(stm32.ADC_CR_ADEN)
	stm32.ADC3.CFGR.SetBits(stm32.ADC_CFGR_CONT)
}

const (
	dmaStreamPrimary = 0
	dmaStreamAux     = 1
)

// tim1HW implements bridge.HW directly against TIM1's registers. ApplyTiming
// is safe to call while running: ARR/CCR1/CCR2 are buffered registers that
// only latch at the next update event, so there is no torn read visible to
// a capture gated on the following rising edge.
type tim1HW struct{}

func (h *tim1HW) ApplyTiming(t bridge.Timing) {
	tim1 := stm32.TIM1
	tim1.ARR.Set(t.ARR)
	tim1.CCR1.Set(t.CCR)
	tim1.CCR2.Set(t.CCR)
	bdtr := tim1.BDTR.Get() &^ 0xFF
	tim1.BDTR.Set(bdtr | uint32(t.DTG))
}

func (h *tim1HW) Start() {
	stm32.TIM1.BDTR.SetBits(stm32.TIM_BDTR_MOE)
	stm32.TIM1.CR1.SetBits(stm32.TIM_CR1_CEN)
}

func (h *tim1HW) Stop() {
	stm32.TIM1.BDTR.ClearBits(stm32.TIM_BDTR_MOE)
	stm32.TIM1.CR1.ClearBits(stm32.TIM_CR1_CEN)
}

// dmaChannel is one DMA1 stream moving ADC conversion results into a
// destination slice, implementing acquire.Channel.
type dmaChannel struct {
	dma    *stm32.DMA_Type
	stream int
	req    acquire.RequestSignal
	dst    []uint16
	busy   volatile.Register8
}

func newDMAChannel(dma *stm32.DMA_Type, stream int, req acquire.RequestSignal) *dmaChannel {
	return &dmaChannel{dma: dma, stream: stream, req: req}
}

func (c *dmaChannel) Configure(dst []uint16, req acquire.RequestSignal) {
	c.dst = dst
	c.req = req
	streamMemoryAddr(c.dma, c.stream).Set(uint32(uintptr(unsafe.Pointer(&dst[0]))))
	streamTransferCount(c.dma, c.stream).Set(uint32(len(dst)))
}

func (c *dmaChannel) Start() error {
	c.busy.Set(1)
	streamEnable(c.dma, c.stream, true)
	return nil
}

func (c *dmaChannel) Busy() bool { return c.busy.Get() != 0 }

func (c *dmaChannel) Abort() {
	streamEnable(c.dma, c.stream, false)
	c.busy.Set(0)
}

// wireCompletionInterrupts registers the DMA-transfer-complete interrupt
// handlers for both streams; each clears the stream's own busy flag by
// calling back into the acquire.Engine's ISR entry points, which is the
// only place a completion hook may run.
func wireCompletionInterrupts(e *acquire.Engine, primaryStream, auxStream int) {
	interrupt.New(stm32.IRQ_DMA1_Stream0, func(interrupt.Interrupt) {
		clearStreamFlags(stm32.DMA1, primaryStream)
		e.PrimaryComplete(0)
	}).Enable()
	interrupt.New(stm32.IRQ_DMA1_Stream1, func(interrupt.Interrupt) {
		clearStreamFlags(stm32.DMA1, auxStream)
		e.AuxComplete(0)
	}).Enable()
}

// streamMemoryAddr, streamTransferCount, streamEnable and clearStreamFlags
// abstract the per-stream register offsets DMA1 exposes as repeated
// SxCR/SxNDTR/SxM0AR/LIFCR-CIFCR groups; the board file's only job is
// picking the right stream's copy, not modeling the whole peripheral.
func streamMemoryAddr(dma *stm32.DMA_Type, stream int) *volatile.Register32 {
	return dmaStreamRegister(dma, stream, dmaRegM0AR)
}

func streamTransferCount(dma *stm32.DMA_Type, stream int) *volatile.Register32 {
	return dmaStreamRegister(dma, stream, dmaRegNDTR)
}

func streamEnable(dma *stm32.DMA_Type, stream int, enabled bool) {
	reg := dmaStreamRegister(dma, stream, dmaRegCR)
	if enabled {
		reg.SetBits(1) // EN bit
	} else {
		reg.ClearBits(1)
	}
}

func clearStreamFlags(dma *stm32.DMA_Type, stream int) {
	// transfer-complete flags for streams 0-3 live in LIFCR, 4-7 in HIFCR
	dma.LIFCR.Set(0x3F << uint(stream*6))
}

type dmaRegKind int

const (
	dmaRegCR dmaRegKind = iota
	dmaRegNDTR
	dmaRegM0AR
)

// dmaStreamRegister resolves one of DMA1's per-stream control/status
// registers by offset; each stream occupies a fixed 24-byte block starting
// after the four shared interrupt status/clear registers (0x10 bytes).
func dmaStreamRegister(dma *stm32.DMA_Type, stream int, kind dmaRegKind) *volatile.Register32 {
	base := uintptr(unsafe.Pointer(dma)) + 0x10 + uintptr(stream)*0x18
	var offset uintptr
	switch kind {
	case dmaRegCR:
		offset = 0x00
	case dmaRegNDTR:
		offset = 0x04
	case dmaRegM0AR:
		offset = 0x08
	}
	return (*volatile.Register32)(unsafe.Pointer(base + offset))
}

// tim2Counter backs timebase.Clock with TIM2's free-running 32-bit
// counter plus a software overflow word, the same two-word reconstruction
// the acquisition timebase uses elsewhere, just with the hardware split
// between a real register and an ISR-maintained one instead of two
// registers.
type tim2Counter struct {
	overflow volatile.Register32
}

func (c *tim2Counter) start() {
	stm32.RCC.APB1LENR.SetBits(stm32.RCC_APB1LENR_TIM2EN)
	stm32.TIM2.ARR.Set(0xFFFFFFFF)
	stm32.TIM2.PSC.Set(timerPrescalerFor(timebaseTickHz))
	stm32.TIM2.EGR.SetBits(stm32.TIM_EGR_UG)
	stm32.TIM2.DIER.SetBits(stm32.TIM_DIER_UIE)
	stm32.TIM2.CR1.SetBits(stm32.TIM_CR1_CEN)
	interrupt.New(stm32.IRQ_TIM2, func(interrupt.Interrupt) {
		stm32.TIM2.SR.ClearBits(stm32.TIM_SR_UIF)
		c.overflow.Set(c.overflow.Get() + 1)
	}).Enable()
}

func (c *tim2Counter) High() uint32 { return c.overflow.Get() }
func (c *tim2Counter) Low() uint32  { return stm32.TIM2.CNT.Get() }

// timerAPB1ClockHz is TIM2's input clock on the H723 at the default clock
// tree (APB1 timer clock, x2 when APB1 prescaler != 1).
const timerAPB1ClockHz = 275_000_000

func timerPrescalerFor(tickHz uint32) uint32 {
	return timerAPB1ClockHz/tickHz - 1
}

// uartAdapter implements hal.UART over machine.UART, which already
// buffers received bytes and never blocks on an empty ring.
type uartAdapter struct {
	u *machine.UART
}

func (a *uartAdapter) WriteString(s string) (int, error) {
	return a.u.Write([]byte(s))
}

func (a *uartAdapter) ReadByte() (byte, bool) {
	if a.u.Buffered() == 0 {
		return 0, false
	}
	b, err := a.u.ReadByte()
	return b, err == nil
}

// gpioPin implements hal.Pin over a machine.Pin.
type gpioPin struct {
	pin machine.Pin
}

func (p *gpioPin) Set(high bool) { p.pin.Set(high) }
func (p *gpioPin) Get() bool     { return p.pin.Get() }

// interruptPin adds the E-stop line's edge callback on top of gpioPin.
type interruptPin struct {
	gpioPin
}

func (p *interruptPin) SetInterrupt(risingEdge bool, fn func()) {
	edge := machine.PinFalling
	if risingEdge {
		edge = machine.PinRising
	}
	if fn == nil {
		p.pin.SetInterrupt(edge, nil)
		return
	}
	p.pin.SetInterrupt(edge, func(machine.Pin) { fn() })
}

// flashSectorAdapter implements hal.FlashSector over a fixed base/size
// region of the internal flash, matching FLASH_SECTOR7's use as the
// persisted-state page in the original firmware.
type flashSectorAdapter struct {
	base uintptr
	size int
}

func newFlashSector(base uintptr, size int) *flashSectorAdapter {
	return &flashSectorAdapter{base: base, size: size}
}

func (f *flashSectorAdapter) Read(dst []byte) error {
	src := unsafe.Slice((*byte)(unsafe.Pointer(f.base)), f.size)
	copy(dst, src)
	return nil
}

func (f *flashSectorAdapter) EraseAndProgram(src []byte) error {
	unlockFlash()
	defer lockFlash()
	eraseSector(7)
	programFlash(f.base, src)
	return nil
}

func (f *flashSectorAdapter) Size() int { return f.size }

func unlockFlash() {
	stm32.FLASH.KEYR1.Set(0x45670123)
	stm32.FLASH.KEYR1.Set(0xCDEF89AB)
}

func lockFlash() {
	stm32.FLASH.CR1.SetBits(stm32.FLASH_CR1_LOCK)
}

func eraseSector(sector uint32) {
	cr := stm32.FLASH.CR1
	cr.SetBits(stm32.FLASH_CR1_SER)
	cr.Set((cr.Get() &^ (0x7 << 8)) | (sector << 8))
	cr.SetBits(stm32.FLASH_CR1_STRT)
	for stm32.FLASH.SR1.HasBits(stm32.FLASH_SR1_QW) {
		time.Sleep(time.Microsecond)
	}
	cr.ClearBits(stm32.FLASH_CR1_SER)
}

// programFlash writes src one 32-bit word (4 bytes, zero-filled past the
// end of src) at a time with FLASH_CR1_PG set, waiting for the write queue
// flag to clear after each word.
func programFlash(base uintptr, src []byte) {
	stm32.FLASH.CR1.SetBits(stm32.FLASH_CR1_PG)
	defer stm32.FLASH.CR1.ClearBits(stm32.FLASH_CR1_PG)

	dst := unsafe.Slice((*uint32)(unsafe.Pointer(base)), (len(src)+3)/4)
	for i := range dst {
		var word uint32
		for b := 0; b < 4; b++ {
			idx := i*4 + b
			if idx < len(src) {
				word |= uint32(src[idx]) << (8 * b)
			}
		}
		dst[i] = word
		for stm32.FLASH.SR1.HasBits(stm32.FLASH_SR1_QW) {
			time.Sleep(time.Microsecond)
		}
	}
}
