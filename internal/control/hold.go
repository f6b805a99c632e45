package control

const (
	DefaultHoldBand = 0.01
	DefaultHoldStep = 0.001
)

// HoldConfig tunes the voltage hold.
type HoldConfig struct {
	// Band is the tolerated voltage error either side of the target.
	Band float64
	// Step is the current change applied per tick outside the band.
	Step float64
}

func (h *HoldConfig) applyDefaults() {
	if h.Band <= 0 {
		h.Band = DefaultHoldBand
	}
	if h.Step <= 0 {
		h.Step = DefaultHoldStep
	}
}

// HoldCurrent nudges the constant current so the measured voltage drifts
// toward target. Drawing more current pulls the source voltage down, so a
// low voltage sheds current and a high one adds it. The result is never
// negative; inside the band the current is left as is.
func HoldCurrent(voltage, target, current float64, cfg HoldConfig) float64 {
	cfg.applyDefaults()

	next := current
	switch {
	case voltage < target-cfg.Band:
		next = current - cfg.Step
	case voltage > target+cfg.Band:
		next = current + cfg.Step
	}
	if next < 0 {
		next = 0
	}
	return next
}
