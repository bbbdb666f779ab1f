package pitch

// nsdf fills out[tau] for tau in [tauMin, tauMax]:
//
//	n(tau) = 2 * sum x[j]x[j+tau] / sum (x[j]^2 + x[j+tau]^2)
//
// over the overlapping part of the frame. Entries outside the range are untouched.
func nsdf(frame []float64, tauMin, tauMax int, out []float64) {
	for tau := tauMin; tau <= tauMax; tau++ {
		limit := len(frame) - tau
		if limit < 2 {
			out[tau] = 0
			continue
		}
		var num, den float64
		for j := 0; j < limit; j++ {
			a, b := frame[j], frame[j+tau]
			num += a * b
			den += a*a + b*b
		}
		if den > 0 {
			out[tau] = 2 * num / den
		} else {
			out[tau] = 0
		}
	}
}

// pickPeak returns the refined lag of the first local maximum that reaches
// both threshold and dominance times the highest local maximum. ok is false
// when no maximum qualifies.
func pickPeak(n []float64, tauMin, tauMax int, threshold float64) (lag float64, ok bool) {
	highest := highestPeak(n, tauMin, tauMax)
	if highest < threshold {
		return 0, false
	}

	cutoff := threshold
	if d := dominance * highest; d > cutoff {
		cutoff = d
	}
	for tau := tauMin + 1; tau < tauMax; tau++ {
		if isLocalMax(n, tau) && n[tau] >= cutoff {
			return refine(n, tau, tauMin, tauMax), true
		}
	}
	return 0, false
}

// highestPeak returns the largest local NSDF maximum strictly inside the lag
// range, or -1 when there is none.
func highestPeak(n []float64, tauMin, tauMax int) float64 {
	highest := -1.0
	for tau := tauMin + 1; tau < tauMax; tau++ {
		if isLocalMax(n, tau) && n[tau] > highest {
			highest = n[tau]
		}
	}
	return highest
}

func isLocalMax(n []float64, tau int) bool {
	return n[tau] > n[tau-1] && n[tau] >= n[tau+1]
}

// refine applies parabolic interpolation around tau, clamped to the lag range.
func refine(n []float64, tau, tauMin, tauMax int) float64 {
	l, c, r := n[tau-1], n[tau], n[tau+1]
	denom := l - 2*c + r
	delta := 0.0
	if denom > 1e-12 || denom < -1e-12 {
		delta = 0.5 * (l - r) / denom
	}
	lag := float64(tau) + delta
	if lag < float64(tauMin) {
		lag = float64(tauMin)
	}
	if lag > float64(tauMax) {
		lag = float64(tauMax)
	}
	return lag
}
