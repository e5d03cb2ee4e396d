// Package kinematics converts between chassis-level speeds and the states of
// the four steered wheel modules of a swerve drivetrain.
package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/swervebot/go-drivecore/pkg/geometry"
)

const NumModules = 4

// ChassisSpeeds is a velocity command or measurement for the whole chassis:
// linear velocity in m/s and angular velocity in rad/s.  It may be expressed
// in the robot frame or the field frame; conversions below.
type ChassisSpeeds struct {
	VX, VY float64
	Omega  float64
}

// FromFieldRelative converts field-frame speeds into the robot frame given
// the robot's current heading.
func FromFieldRelative(s ChassisSpeeds, heading float64) ChassisSpeeds {
	t := geometry.Translation{X: s.VX, Y: s.VY}.Rotate(-heading)
	return ChassisSpeeds{VX: t.X, VY: t.Y, Omega: s.Omega}
}

// ToFieldRelative converts robot-frame speeds into the field frame.
func ToFieldRelative(s ChassisSpeeds, heading float64) ChassisSpeeds {
	t := geometry.Translation{X: s.VX, Y: s.VY}.Rotate(heading)
	return ChassisSpeeds{VX: t.X, VY: t.Y, Omega: s.Omega}
}

// ModuleState is the commanded or measured state of one module: wheel ground
// speed in m/s and steer angle in radians (robot frame).
type ModuleState struct {
	SpeedMPS float64
	Angle    float64
}

// ModuleDelta is the change in one module's odometry between two samples:
// distance rolled along the floor in metres, at the given steer angle.
type ModuleDelta struct {
	DistanceM float64
	Angle     float64
}

// Swerve holds the fixed geometry of a four-module drivetrain: the position
// of each module relative to the robot centre, metres, +X forward +Y left.
type Swerve struct {
	offsets [NumModules]mgl64.Vec2
}

// New builds the kinematics for the given module offsets, ordered
// front-left, front-right, back-left, back-right.  Degenerate geometry (a
// module at the robot centre, or two modules in the same place) is a fatal
// configuration error.
func New(offsets [NumModules]mgl64.Vec2) (*Swerve, error) {
	for i, off := range offsets {
		if off.Len() < 1e-6 {
			return nil, errors.Errorf("module %d is at the robot centre", i)
		}
		for j := 0; j < i; j++ {
			if off.Sub(offsets[j]).Len() < 1e-6 {
				return nil, errors.Errorf("modules %d and %d share a position", j, i)
			}
		}
	}
	return &Swerve{offsets: offsets}, nil
}

// ToModuleStates computes the per-module states that realise the given
// robot-frame chassis speeds.  If any wheel would exceed maxWheelSpeed, all
// wheel speeds are scaled down together so the ratio between modules (and
// hence the direction of travel) is preserved.
func (k *Swerve) ToModuleStates(s ChassisSpeeds, maxWheelSpeed float64) [NumModules]ModuleState {
	var states [NumModules]ModuleState
	highest := 0.0
	for i, off := range k.offsets {
		// v_i = v + omega x r_i
		v := mgl64.Vec2{
			s.VX - s.Omega*off.Y(),
			s.VY + s.Omega*off.X(),
		}
		speed := v.Len()
		angle := 0.0
		if speed > 1e-9 {
			angle = math.Atan2(v.Y(), v.X())
		}
		states[i] = ModuleState{SpeedMPS: speed, Angle: angle}
		if speed > highest {
			highest = speed
		}
	}
	if highest > maxWheelSpeed && highest > 0 {
		scale := maxWheelSpeed / highest
		for i := range states {
			states[i].SpeedMPS *= scale
		}
	}
	return states
}

// ToChassisSpeeds computes the robot-frame chassis speeds implied by the
// measured module states, the least-squares inverse of ToModuleStates.
func (k *Swerve) ToChassisSpeeds(states [NumModules]ModuleState) ChassisSpeeds {
	var sumV mgl64.Vec2
	var sumOmega float64
	for i, st := range states {
		v := mgl64.Vec2{
			st.SpeedMPS * math.Cos(st.Angle),
			st.SpeedMPS * math.Sin(st.Angle),
		}
		sumV = sumV.Add(v)
		off := k.offsets[i]
		// Rotational component: (r x v) / |r|^2.
		sumOmega += (off.X()*v.Y() - off.Y()*v.X()) / off.LenSqr()
	}
	return ChassisSpeeds{
		VX:    sumV.X() / NumModules,
		VY:    sumV.Y() / NumModules,
		Omega: sumOmega / NumModules,
	}
}

// ToTwist computes the incremental robot-frame displacement and rotation
// implied by one synchronized set of module odometry deltas.
func (k *Swerve) ToTwist(deltas [NumModules]ModuleDelta) (dx, dy, dtheta float64) {
	var sum mgl64.Vec2
	var sumTheta float64
	for i, d := range deltas {
		v := mgl64.Vec2{
			d.DistanceM * math.Cos(d.Angle),
			d.DistanceM * math.Sin(d.Angle),
		}
		sum = sum.Add(v)
		off := k.offsets[i]
		sumTheta += (off.X()*v.Y() - off.Y()*v.X()) / off.LenSqr()
	}
	return sum.X() / NumModules, sum.Y() / NumModules, sumTheta / NumModules
}

// RectangularOffsets is the usual symmetric layout for a chassis with the
// given wheelbase (front-back) and track width (left-right), metres.
func RectangularOffsets(wheelBase, trackWidth float64) [NumModules]mgl64.Vec2 {
	halfL, halfW := wheelBase/2, trackWidth/2
	return [NumModules]mgl64.Vec2{
		{halfL, halfW},   // front-left
		{halfL, -halfW},  // front-right
		{-halfL, halfW},  // back-left
		{-halfL, -halfW}, // back-right
	}
}
