package geometry

import "math"

// Translation is a 2D displacement in field coordinates, metres.
type Translation struct {
	X, Y float64
}

func (t Translation) Plus(o Translation) Translation {
	return Translation{t.X + o.X, t.Y + o.Y}
}

func (t Translation) Minus(o Translation) Translation {
	return Translation{t.X - o.X, t.Y - o.Y}
}

func (t Translation) Scale(f float64) Translation {
	return Translation{t.X * f, t.Y * f}
}

// Rotate rotates the translation counter-clockwise by the given angle in
// radians.
func (t Translation) Rotate(angle float64) Translation {
	sin, cos := math.Sincos(angle)
	return Translation{
		X: t.X*cos - t.Y*sin,
		Y: t.X*sin + t.Y*cos,
	}
}

func (t Translation) Norm() float64 {
	return math.Hypot(t.X, t.Y)
}

// Pose is a 2D position plus heading in field coordinates.  Heading is in
// radians, stored in range (-pi, pi], positive counter-clockwise.
type Pose struct {
	X, Y    float64
	Heading float64
}

func NewPose(x, y, heading float64) Pose {
	return Pose{X: x, Y: y, Heading: NormalizeAngle(heading)}
}

func (p Pose) Translation() Translation {
	return Translation{p.X, p.Y}
}

// Offset returns the pose displaced by the given field-frame translation and
// heading delta.
func (p Pose) Offset(t Translation, dHeading float64) Pose {
	return Pose{
		X:       p.X + t.X,
		Y:       p.Y + t.Y,
		Heading: NormalizeAngle(p.Heading + dHeading),
	}
}

// Exp advances the pose along a constant body-frame twist (dx, dy forward
// and left in metres, dtheta radians) held over one interval.  Unlike
// rotating the displacement at the starting heading and then turning, this
// accounts for the heading sweeping through dtheta while the displacement
// accumulates, so translate-while-rotate motion integrates without drift.
func (p Pose) Exp(dx, dy, dtheta float64) Pose {
	s, c := twistCoeffs(dtheta)
	field := Translation{
		X: dx*s - dy*c,
		Y: dx*c + dy*s,
	}.Rotate(p.Heading)
	return Pose{
		X:       p.X + field.X,
		Y:       p.Y + field.Y,
		Heading: NormalizeAngle(p.Heading + dtheta),
	}
}

// Log recovers the constant body-frame twist that takes p to q in one
// interval.  Inverse of Exp: p.Exp(p.Log(q)) == q.
func (p Pose) Log(q Pose) (dx, dy, dtheta float64) {
	dtheta = NormalizeAngle(q.Heading - p.Heading)
	body := Translation{X: q.X - p.X, Y: q.Y - p.Y}.Rotate(-p.Heading)
	s, c := twistCoeffs(dtheta)
	det := s*s + c*c
	dx = (s*body.X + c*body.Y) / det
	dy = (-c*body.X + s*body.Y) / det
	return dx, dy, dtheta
}

// twistCoeffs returns sin(t)/t and (1-cos(t))/t with a series fallback near
// zero.
func twistCoeffs(t float64) (s, c float64) {
	if math.Abs(t) < 1e-9 {
		return 1 - t*t/6, t / 2
	}
	return math.Sin(t) / t, (1 - math.Cos(t)) / t
}

// WithinTolerance reports whether the pose is within tol of target on each of
// X, Y and heading.  The heading comparison wraps through (-pi, pi].
func (p Pose) WithinTolerance(target, tol Pose) bool {
	return math.Abs(p.X-target.X) <= tol.X &&
		math.Abs(p.Y-target.Y) <= tol.Y &&
		math.Abs(NormalizeAngle(p.Heading-target.Heading)) <= tol.Heading
}

// NormalizeAngle converts an angle in radians of any magnitude into range
// (-pi, pi].
func NormalizeAngle(a float64) float64 {
	d := math.Mod(a, 2*math.Pi)
	if d <= -math.Pi {
		d += 2 * math.Pi
	} else if d > math.Pi {
		d -= 2 * math.Pi
	}
	return d
}

// Degrees converts degrees to radians.  Handy for configs and tests, which
// tend to be written in degrees.
func Degrees(d float64) float64 {
	return d * math.Pi / 180
}
