// Package progression contains the per-user progression aggregate: the level
// curve, the ProgressionRecord, and the forgiveness token ledger.
package progression

import (
	"math"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Level Curve
// ═══════════════════════════════════════════════════════════════════════════

// CurveParams holds the tunable XP curve coefficients.
// The threshold for level n is ceil(coef * (n-1)^exp), so the curve is
// strictly increasing and superlinear for exp > 1. Superlinearity keeps the
// reward economy convergent: challenge and achievement bonuses cannot cause
// runaway leveling at high levels.
type CurveParams struct {
	// Coefficient scales the whole curve. Must be positive.
	Coefficient float64

	// Exponent controls how fast thresholds grow. Must be greater than 1.
	Exponent float64
}

// Default curve constants.
const (
	DefaultCurveCoefficient = 100.0
	DefaultCurveExponent    = 1.6
)

// DefaultCurve returns the default curve parameters.
func DefaultCurve() CurveParams {
	return CurveParams{
		Coefficient: DefaultCurveCoefficient,
		Exponent:    DefaultCurveExponent,
	}
}

// Validate checks the curve parameters guarantee a strictly increasing,
// superlinear threshold function.
func (c CurveParams) Validate() error {
	if c.Coefficient <= 0 {
		return shared.NewDomainError("progression", "CurveParams", shared.ErrValueOutOfRange, "curve coefficient must be positive")
	}
	if c.Exponent <= 1 {
		return shared.NewDomainError("progression", "CurveParams", shared.ErrValueOutOfRange, "curve exponent must be greater than 1")
	}
	return nil
}

// XPForLevel returns the total XP threshold required to be at the given level.
// Users start at level 1 with 0 XP.
func XPForLevel(level int, curve CurveParams) int {
	if level <= 1 {
		return 0
	}
	req := curve.Coefficient * math.Pow(float64(level-1), curve.Exponent)
	// Use ceil to avoid making thresholds easier due to floating point rounding.
	return int(math.Ceil(req))
}

// LevelForTotalXP returns the highest level L such that
// totalXP >= XPForLevel(L, curve).
func LevelForTotalXP(totalXP int, curve CurveParams) int {
	if totalXP <= 0 {
		return 1
	}

	// Exponential search upper bound, then binary search.
	low := 1
	high := 2
	for XPForLevel(high, curve) <= totalXP {
		low = high
		high *= 2
		if high > 1_000_000 {
			break
		}
	}

	for low+1 < high {
		mid := low + (high-low)/2
		if XPForLevel(mid, curve) <= totalXP {
			low = mid
		} else {
			high = mid
		}
	}
	return low
}

// LevelInfo is the level snapshot derived from a total XP value.
type LevelInfo struct {
	// CurrentLevel is the level the XP total maps to.
	CurrentLevel int

	// XPForCurrentLevel is the threshold of the current level.
	XPForCurrentLevel int

	// XPForNextLevel is the threshold of the next level.
	XPForNextLevel int

	// ProgressToNextLevel is the integer percent progress within the current
	// level band.
	ProgressToNextLevel int

	// ProgressPercentage is the same progress with float precision, for UI
	// progress bars.
	ProgressPercentage float64

	// IsMilestone reports whether the current level is a milestone (multiple
	// of 5).
	IsMilestone bool

	// NextMilestone is the next milestone level strictly above CurrentLevel.
	NextMilestone int
}

// ComputeLevelInfo derives the full level snapshot for a total XP value.
// Pure function of its inputs.
func ComputeLevelInfo(totalXP int, curve CurveParams) LevelInfo {
	if totalXP < 0 {
		totalXP = 0
	}

	level := LevelForTotalXP(totalXP, curve)
	current := XPForLevel(level, curve)
	next := XPForLevel(level+1, curve)

	band := next - current
	var pct float64
	if band > 0 {
		pct = float64(totalXP-current) / float64(band) * 100
	}
	if pct > 100 {
		pct = 100
	}

	return LevelInfo{
		CurrentLevel:        level,
		XPForCurrentLevel:   current,
		XPForNextLevel:      next,
		ProgressToNextLevel: int(pct),
		ProgressPercentage:  pct,
		IsMilestone:         IsMilestoneLevel(level),
		NextMilestone:       NextMilestone(level),
	}
}

// IsMilestoneLevel reports whether a level is a milestone (multiple of 5).
func IsMilestoneLevel(level int) bool {
	return level > 0 && level%5 == 0
}

// NextMilestone returns the next milestone level strictly above the given
// level. For a milestone level this is level+5.
func NextMilestone(level int) int {
	if level < 0 {
		level = 0
	}
	if level%5 == 0 {
		return level + 5
	}
	return level + (5 - level%5)
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Titles & Colors
// ═══════════════════════════════════════════════════════════════════════════

// levelBucket describes a display band of levels.
type levelBucket struct {
	minLevel int
	title    string
	color    string
}

// Display buckets, ordered by minLevel descending for lookup.
var levelBuckets = []levelBucket{
	{50, "Transcendent", "#FFD700"},
	{40, "Grandmaster", "#FF4500"},
	{30, "Master", "#9932CC"},
	{25, "Veteran", "#4169E1"},
	{20, "Expert", "#1E90FF"},
	{15, "Adept", "#20B2AA"},
	{10, "Practitioner", "#32CD32"},
	{5, "Apprentice", "#9ACD32"},
	{1, "Novice", "#A9A9A9"},
}

// LevelTitle returns the display title for a level. Deterministic lookup,
// no side effects.
func LevelTitle(level int) string {
	for _, b := range levelBuckets {
		if level >= b.minLevel {
			return b.title
		}
	}
	return levelBuckets[len(levelBuckets)-1].title
}

// LevelColor returns the display color (hex) for a level.
func LevelColor(level int) string {
	for _, b := range levelBuckets {
		if level >= b.minLevel {
			return b.color
		}
	}
	return levelBuckets[len(levelBuckets)-1].color
}

// RewardForLevel returns the display reward string unlocked by reaching the
// given level. Milestone levels unlock a theme, other levels a badge accent.
func RewardForLevel(level int) string {
	if IsMilestoneLevel(level) {
		return "theme:" + LevelTitle(level)
	}
	return "badge:" + LevelColor(level)
}
