package geometry

import (
	"math"
	"testing"
)

func TestNormalizeAngle(t *testing.T) {
	expectNormalized(t, 0, 0)
	expectNormalized(t, math.Pi, math.Pi)
	expectNormalized(t, -math.Pi, math.Pi)
	expectNormalized(t, 2*math.Pi, 0)
	expectNormalized(t, 3*math.Pi, math.Pi)
	expectNormalized(t, -3*math.Pi, math.Pi)
	expectNormalized(t, math.Pi/2+4*math.Pi, math.Pi/2)
	expectNormalized(t, -math.Pi/2-4*math.Pi, -math.Pi/2)
}

func expectNormalized(t *testing.T, in, want float64) {
	t.Helper()
	got := NormalizeAngle(in)
	if got <= -math.Pi || got > math.Pi {
		t.Errorf("NormalizeAngle(%f) = %f, out of range (-pi, pi]", in, got)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("NormalizeAngle(%f) = %f, expected %f", in, got, want)
	}
}

func TestRotate(t *testing.T) {
	r := Translation{1, 0}.Rotate(math.Pi / 2)
	if math.Abs(r.X) > 1e-12 || math.Abs(r.Y-1) > 1e-12 {
		t.Errorf("rotate 90 degrees: got %v", r)
	}
	r = Translation{1, 1}.Rotate(-math.Pi / 2)
	if math.Abs(r.X-1) > 1e-12 || math.Abs(r.Y+1) > 1e-12 {
		t.Errorf("rotate -90 degrees: got %v", r)
	}
}

func TestExpQuarterArc(t *testing.T) {
	// Driving forward pi/2 metres while turning pi/2 traces a quarter
	// circle of radius 1: the robot ends at (1, 1) facing +Y.
	got := Pose{}.Exp(math.Pi/2, 0, math.Pi/2)
	if math.Abs(got.X-1) > 1e-12 || math.Abs(got.Y-1) > 1e-12 {
		t.Errorf("quarter arc ended at (%f, %f), expected (1, 1)", got.X, got.Y)
	}
	if math.Abs(got.Heading-math.Pi/2) > 1e-12 {
		t.Errorf("quarter arc heading %f, expected pi/2", got.Heading)
	}

	// Zero rotation reduces to plain displacement rotation.
	got = NewPose(1, 2, math.Pi/2).Exp(0.5, 0, 0)
	if math.Abs(got.X-1) > 1e-12 || math.Abs(got.Y-2.5) > 1e-12 {
		t.Errorf("straight twist ended at (%f, %f), expected (1, 2.5)", got.X, got.Y)
	}
}

func TestLogInvertsExp(t *testing.T) {
	starts := []Pose{{}, NewPose(3, -2, 1.1), NewPose(-1, 4, -2.8)}
	twists := [][3]float64{
		{1, 0, 0}, {0.3, -0.2, 0.9}, {0.02, 0.01, -0.004}, {0, 0, 1.5},
	}
	for _, p := range starts {
		for _, tw := range twists {
			q := p.Exp(tw[0], tw[1], tw[2])
			dx, dy, dtheta := p.Log(q)
			if math.Abs(dx-tw[0]) > 1e-9 || math.Abs(dy-tw[1]) > 1e-9 || math.Abs(dtheta-tw[2]) > 1e-9 {
				t.Errorf("log(exp(%v)) from %+v = (%f, %f, %f)", tw, p, dx, dy, dtheta)
			}
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	tol := Pose{0.03, 0.03, Degrees(2)}
	target := NewPose(1, 1, math.Pi/2)

	if !NewPose(1.02, 0.98, math.Pi/2+Degrees(1)).WithinTolerance(target, tol) {
		t.Error("pose inside tolerance reported outside")
	}
	if NewPose(1.05, 1, math.Pi/2).WithinTolerance(target, tol) {
		t.Error("pose outside X tolerance reported inside")
	}

	// Heading comparison must wrap: a target of pi and a pose of -pi plus a
	// degree are only two degrees apart.
	target = NewPose(0, 0, math.Pi)
	if !NewPose(0, 0, -math.Pi+Degrees(1)).WithinTolerance(target, tol) {
		t.Error("wrapped heading comparison failed")
	}
}
