// Package decode converts raw ADC codes from the primary and aux capture
// chains into engineering-unit values, using the affine calibration
// constants that come from each channel's analog divider network. These
// constants are part of the external contract: they cannot drift without
// re-characterizing the hardware, so they are named constants here, not
// tunables.
package decode

import "periph.io/x/periph/conn/physic"

// Aux channel indices, in the order the scan-mode ADC visits them.
const (
	ChannelVBAT = iota
	Channel15V
	Channel3_3V
	ChannelNC3
	ChannelBridgeTemp
	ChannelHV
	ChannelThermistor1
	ChannelThermistor2
	ChannelThermistor3
	ChannelThermistor4
	ChannelNC10
)

const (
	primaryFullScale = 65536.0 // 16-bit primary chain
	auxFullScale     = 4096.0  // 12-bit aux chain
	vref             = 3.3

	currentGainMa    = 50_000.0
	currentOffsetV   = 1.585714
	currentSpanV     = 3.594286
	plasmaGainMv     = 1e6
	plasmaOffsetV    = 1.648348
	plasmaSpanV      = 0.999
	bridgeDividerMv  = 167.667
	hvCorrection     = 0.129
)

func primaryVolts(raw uint16) float64 {
	return vref * float64(raw) / primaryFullScale
}

func auxVolts(raw uint16) float64 {
	return vref * float64(raw) / auxFullScale
}

// Current converts a raw primary-chain code from the bridge-current
// channel into an engineering current value.
func Current(raw uint16) physic.ElectricCurrent {
	v := primaryVolts(raw)
	mA := currentGainMa * (v - currentOffsetV) / currentSpanV
	return physic.ElectricCurrent(mA * float64(physic.MilliAmpere))
}

// PlasmaVoltage converts a raw primary-chain code from one of the
// differential plasma-voltage channels into an engineering voltage.
func PlasmaVoltage(raw uint16) physic.ElectricPotential {
	v := primaryVolts(raw)
	mV := plasmaGainMv * (v - plasmaOffsetV) / plasmaSpanV
	return physic.ElectricPotential(mV * float64(physic.MilliVolt))
}

// BridgeVoltage converts a raw primary-chain code from one of the bridge
// supply-sense channels into an engineering voltage.
func BridgeVoltage(raw uint16) physic.ElectricPotential {
	mV := 1000 * bridgeDividerMv * primaryVolts(raw)
	return physic.ElectricPotential(mV * float64(physic.MilliVolt))
}

// AuxVoltage converts a raw aux-chain code into an engineering voltage
// using the same divider ratio as BridgeVoltage, scaled for the aux
// chain's 12-bit full scale. Used for the 15V, 3.3V and battery rails.
func AuxVoltage(raw uint16) physic.ElectricPotential {
	mV := 1000 * bridgeDividerMv * auxVolts(raw)
	return physic.ElectricPotential(mV * float64(physic.MilliVolt))
}

// HVRailVoltage converts a raw aux-chain code from the 500V rail channel,
// applying the same divider as AuxVoltage plus an empirical correction
// factor that calibration against hardware found necessary for this rail
// specifically.
func HVRailVoltage(raw uint16) physic.ElectricPotential {
	return physic.ElectricPotential(float64(AuxVoltage(raw)) * hvCorrection)
}

// FormatPrimaryDump renders one primary capture group as one fixed-width
// text line. Nothing else in this module calls it.
func FormatPrimaryDump(groupIndex int, gate uint16, current physic.ElectricCurrent, vBriS1, vBriS2, vL1, vL2 physic.ElectricPotential) string {
	return sprintGroup(groupIndex, gate, current, vBriS1, vBriS2, vL1, vL2)
}

// FormatAuxDump renders the aux capture's raw codes, one labelled line per
// channel; it does not decode them to rail voltages. The remote protocol's
// `a` command replies with this text.
func FormatAuxDump(raw [11]uint16) string {
	return sprintAux(raw)
}
