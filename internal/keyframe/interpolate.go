package keyframe

import "math"

// segment evaluates one bracketed segment. Scalar and batch evaluation
// both go through here so their results are bit-identical.
func segment(kind Interp, t0, v0, t1, v1, outDT, outDV, inDT, inDV, t float64) float64 {
	span := t1 - t0
	if span <= 0 {
		return v1
	}
	// Normalized position between the bracketing keys
	u := (t - t0) / span

	switch kind {
	case Hold:
		return v0
	case Bezier:
		x1, y1, x2, y2 := controlPoints(span, v0, v1, outDT, outDV, inDT, inDV)
		s := solveBezierX(u, x1, x2)
		return cubic(s, v0, y1, y2, v1)
	default:
		return lerp(v0, v1, u)
	}
}

// controlPoints returns P1 and P2 with x normalized to the segment.
func controlPoints(span, v0, v1, outDT, outDV, inDT, inDV float64) (x1, y1, x2, y2 float64) {
	x1 = 1.0 / 3.0
	if outDT != 0 {
		x1 = clamp01(outDT / span)
	}
	x2 = 2.0 / 3.0
	if inDT != 0 {
		x2 = clamp01(1 + inDT/span)
	}
	return x1, v0 + outDV, x2, v1 + inDV
}

// solveBezierX finds s in [0,1] with x(s) = u for x(0)=0, x(1)=1.
func solveBezierX(u, x1, x2 float64) float64 {
	if u <= 0 {
		return 0
	}
	if u >= 1 {
		return 1
	}

	s := u
	for i := 0; i < 8; i++ {
		x := cubic(s, 0, x1, x2, 1) - u
		if math.Abs(x) < 1e-9 {
			return s
		}
		d := cubicDerivative(s, 0, x1, x2, 1)
		if math.Abs(d) < 1e-9 {
			break
		}
		s -= x / d
		if s < 0 || s > 1 {
			break
		}
	}

	// Newton left the interval or stalled on a flat tangent
	lo, hi := 0.0, 1.0
	s = u
	for i := 0; i < 64; i++ {
		x := cubic(s, 0, x1, x2, 1)
		if math.Abs(x-u) < 1e-12 {
			break
		}
		if x < u {
			lo = s
		} else {
			hi = s
		}
		s = (lo + hi) / 2
	}
	return s
}

// splitBezier rewrites the handles of a and b and fills mid's handles
// so that the two halves trace the original segment (de Casteljau).
func splitBezier(a, mid, b *Key) {
	t0, t1 := float64(a.Time), float64(b.Time)
	span := t1 - t0
	x1, y1, x2, y2 := controlPoints(span, a.Value, b.Value, a.Out.DT, a.Out.DV, b.In.DT, b.In.DV)

	// Back to absolute coordinates
	p0x, p0y := t0, a.Value
	p1x, p1y := t0+x1*span, y1
	p2x, p2y := t0+x2*span, y2
	p3x, p3y := t1, b.Value

	s := solveBezierX((float64(mid.Time)-t0)/span, x1, x2)

	q0x, q0y := lerp(p0x, p1x, s), lerp(p0y, p1y, s)
	q1x, q1y := lerp(p1x, p2x, s), lerp(p1y, p2y, s)
	q2x, q2y := lerp(p2x, p3x, s), lerp(p2y, p3y, s)
	r0x, r0y := lerp(q0x, q1x, s), lerp(q0y, q1y, s)
	r1x, r1y := lerp(q1x, q2x, s), lerp(q1y, q2y, s)
	mx, my := lerp(r0x, r1x, s), lerp(r0y, r1y, s)

	a.Out = pinned(q0x-p0x, q0y-p0y, 1)
	mid.Value = my
	mid.In = pinned(r0x-mx, r0y-my, -1)
	mid.Out = pinned(r1x-mx, r1y-my, 1)
	b.In = pinned(q2x-p3x, q2y-p3y, -1)
}

// minHandleDT stands in for a handle that collapsed onto its key, since a
// zero DT reads as the default one-third handle.
const minHandleDT = 1e-9

func pinned(dt, dv, dir float64) Handle {
	if dt == 0 {
		dt = dir * minHandleDT
	}
	return Handle{DT: dt, DV: dv}
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func cubic(s, p0, p1, p2, p3 float64) float64 {
	m := 1 - s
	return m*m*m*p0 + 3*m*m*s*p1 + 3*m*s*s*p2 + s*s*s*p3
}

func cubicDerivative(s, p0, p1, p2, p3 float64) float64 {
	m := 1 - s
	return 3*m*m*(p1-p0) + 6*m*s*(p2-p1) + 3*s*s*(p3-p2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
