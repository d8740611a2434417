package decode

import "fmt"

func sprintGroup(groupIndex int, gate uint16, current interface{ String() string }, vBriS1, vBriS2, vL1, vL2 interface{ String() string }) string {
	return fmt.Sprintf("%3d gate=%5d Is=%s VbriS1=%s VbriS2=%s VplaL1=%s VplaL2=%s\n",
		groupIndex, gate, current, vBriS1, vBriS2, vL1, vL2)
}

func sprintAux(raw [11]uint16) string {
	labels := [11]string{
		"VBAT", "15V", "3V3", "NC3", "BridgeTemp", "500VDC",
		"Therm1", "Therm2", "Therm3", "Therm4", "NC10",
	}
	s := ""
	for i, val := range raw {
		s += fmt.Sprintf("%2d %12s: %5d\n", i, labels[i], val)
	}
	return s
}
