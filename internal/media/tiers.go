package media

// Tier names a re-encode quality preset.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// tierParams maps a tier to its resolution ceiling, x264 preset and the
// empirical output/source size ratio used for pre-encode estimates.
type tierParams struct {
	Height int
	Preset string
	Ratio  float64
}

var tiers = map[Tier]tierParams{
	TierLow:    {Height: 480, Preset: "veryfast", Ratio: 0.05},
	TierMedium: {Height: 720, Preset: "faster", Ratio: 0.15},
	TierHigh:   {Height: 1080, Preset: "medium", Ratio: 0.25},
}

// TierOrder lists tiers from smallest to largest expected output.
var TierOrder = []Tier{TierLow, TierMedium, TierHigh}

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	_, ok := tiers[t]
	return ok
}

// Estimate projects the re-encoded size for a tier from the source size.
// The ratios are empirical; the point is to skip offering tiers that
// obviously cannot fit, not to promise a size.
func Estimate(t Tier, srcBytes int64) int64 {
	p, ok := tiers[t]
	if !ok {
		return srcBytes
	}
	return int64(float64(srcBytes) * p.Ratio)
}

// TiersUnder returns the tiers whose estimated output fits under limit,
// preserving the low-to-high order.
func TiersUnder(limit, srcBytes int64) []Tier {
	var out []Tier
	for _, t := range TierOrder {
		if Estimate(t, srcBytes) <= limit {
			out = append(out, t)
		}
	}
	return out
}
