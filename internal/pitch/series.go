package pitch

import "sort"

// Unvoiced marks a frame without a pitch in an F0 series.
const Unvoiced = 0.0

// BridgeGaps returns a copy of series where runs of at most maxGap unvoiced
// frames with voiced frames on both sides are filled by linear interpolation
// in Hz. Longer runs and runs touching either end stay unvoiced.
func BridgeGaps(series []float64, maxGap int) []float64 {
	out := make([]float64, len(series))
	copy(out, series)
	if maxGap <= 0 {
		return out
	}

	i := 0
	for i < len(out) {
		if out[i] != Unvoiced {
			i++
			continue
		}
		start := i
		for i < len(out) && out[i] == Unvoiced {
			i++
		}
		gap := i - start
		if start == 0 || i == len(out) || gap > maxGap {
			continue
		}
		left, right := out[start-1], out[i]
		for k := 1; k <= gap; k++ {
			out[start+k-1] = left + (right-left)*float64(k)/float64(gap+1)
		}
	}
	return out
}

// Median returns the median of the voiced values in series. ok is false
// when no frame is voiced.
func Median(series []float64) (median float64, ok bool) {
	voiced := make([]float64, 0, len(series))
	for _, v := range series {
		if v > Unvoiced {
			voiced = append(voiced, v)
		}
	}
	if len(voiced) == 0 {
		return 0, false
	}
	sort.Float64s(voiced)
	mid := len(voiced) / 2
	if len(voiced)%2 == 1 {
		return voiced[mid], true
	}
	return (voiced[mid-1] + voiced[mid]) / 2, true
}
