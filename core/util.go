package core

import (
	"fmt"
	"math"
)

// FormatTime renders seconds as zero-padded MM:SS, flooring fractions.
func FormatTime(sec float64) string {
	sec = math.Max(sec, 0)
	m := int(sec) / 60
	s := int(sec) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
