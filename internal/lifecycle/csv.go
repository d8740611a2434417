package lifecycle

import (
	"fmt"

	"periph.io/x/periph/conn/physic"
)

// csvHeader is the column header `lh` prints ahead of the log stream.
const csvHeader = "us_time,freq_hz,deadtime_pct,Is_mA,VplaL1_mV,VplaL2_mV,VbriS1_mV,VbriS2_mV,gate_raw,upper,lower"

// CSVHeader returns the CSV log line's column header.
func CSVHeader() string { return csvHeader }

func sprintCSVLine(usTime uint64, freqHz, deadtimePct int, current physic.ElectricCurrent,
	vL1, vL2, vBriS1, vBriS2 physic.ElectricPotential, gateRaw uint16, upper, lower float64) string {
	return fmt.Sprintf("%d,%d,%d,%.3f,%.3f,%.3f,%.3f,%.3f,%d,%.3f,%.3f",
		usTime, freqHz, deadtimePct,
		float64(current)/float64(physic.MilliAmpere),
		float64(vL1)/float64(physic.MilliVolt),
		float64(vL2)/float64(physic.MilliVolt),
		float64(vBriS1)/float64(physic.MilliVolt),
		float64(vBriS2)/float64(physic.MilliVolt),
		gateRaw, upper, lower)
}
