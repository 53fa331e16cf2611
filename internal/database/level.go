package database

// XPForNextLevel returns the XP needed to go from level to level+1
func XPForNextLevel(level int) int64 {
	n := int64(level)
	return 5*n*n + 50*n + 100
}

// LevelForXP returns the level reached with total XP
func LevelForXP(total int64) int {
	level, _, _ := LevelProgress(total)
	return level
}

// LevelProgress splits total XP into the level reached, the XP earned inside
// that level and the XP the level requires.
func LevelProgress(total int64) (level int, into, needed int64) {
	for total >= XPForNextLevel(level) {
		total -= XPForNextLevel(level)
		level++
	}
	return level, total, XPForNextLevel(level)
}
