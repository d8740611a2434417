package control

import "plasmadriver/internal/bridge"

// RemoteFrequencyCeilingHz is the additional operational ceiling applied
// to the frequency controller's output only when the auto-frequency loop
// is driven from the remote protocol, not from the local TEST-mode menu.
const RemoteFrequencyCeilingHz = 46_000

// ApplyFrequencyDelta adds deltaHz to currentHz and clamps the result to
// the bridge's static frequency band, additionally capping at ceilingHz
// when it is nonzero (the remote protocol's tighter operational limit).
func ApplyFrequencyDelta(currentHz, deltaHz int, ceilingHz int) int {
	next := currentHz + deltaHz
	next = bridge.ClampFrequency(next)
	if ceilingHz > 0 && next > ceilingHz {
		next = ceilingHz
	}
	return next
}

// ApplyDeadtimeDelta adds deltaPct to currentPct and clamps to the
// bridge's static dead-time band.
func ApplyDeadtimeDelta(currentPct, deltaPct int) int {
	return bridge.ClampDeadtime(currentPct + deltaPct)
}
