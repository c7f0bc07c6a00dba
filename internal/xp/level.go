package xp

import (
	"math"
	"sort"
)

// BaseXPPerLevel scales the generated level curve
const BaseXPPerLevel = 100

// LevelTable maps cumulative XP to a level.
// thresholds[i] is the total XP at which level i+2 is reached.
type LevelTable struct {
	thresholds  []int64
	floorAtZero bool
}

// NewLevelTable creates a table from ascending cumulative thresholds
func NewLevelTable(thresholds []int64, floorAtZero bool) *LevelTable {
	t := make([]int64, len(thresholds))
	copy(t, thresholds)
	return &LevelTable{thresholds: t, floorAtZero: floorAtZero}
}

// DefaultThresholds generates a curve where reaching level n+1 from
// level n costs floor(BaseXPPerLevel * n^1.2).
func DefaultThresholds(maxLevel int) []int64 {
	if maxLevel < 2 {
		return nil
	}
	out := make([]int64, 0, maxLevel-1)
	var total int64
	for n := 1; n < maxLevel; n++ {
		total += int64(math.Floor(BaseXPPerLevel * math.Pow(float64(n), 1.2)))
		out = append(out, total)
	}
	return out
}

// Level returns the level for totalXP; level 1 is the minimum
func (t *LevelTable) Level(totalXP int64) int {
	n := sort.Search(len(t.thresholds), func(i int) bool {
		return t.thresholds[i] > totalXP
	})
	return n + 1
}

// Apply adds delta to total, honoring the zero floor policy
func (t *LevelTable) Apply(total, delta int64) int64 {
	next := total + delta
	if t.floorAtZero && next < 0 {
		return 0
	}
	return next
}

// NextThreshold returns the XP needed for the level after level
func (t *LevelTable) NextThreshold(level int) (int64, bool) {
	idx := level - 1
	if idx < 0 || idx >= len(t.thresholds) {
		return 0, false
	}
	return t.thresholds[idx], true
}

// MaxLevel is the highest reachable level
func (t *LevelTable) MaxLevel() int {
	return len(t.thresholds) + 1
}
