package autoalign

import (
	"math"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
)

// pid is a discrete PID loop with clamped integral and derivative terms.
type pid struct {
	kp, ki, kd  float64
	maxIntegral float64
	maxD        float64

	iErr    float64
	lastErr float64
	primed  bool
}

func (p *pid) reset() {
	p.iErr = 0
	p.lastErr = 0
	p.primed = false
}

func (p *pid) update(err, dt float64) float64 {
	var dErr float64
	if p.primed && dt > 0 {
		dErr = (err - p.lastErr) / dt
		if dErr > p.maxD {
			dErr = p.maxD
		} else if dErr < -p.maxD {
			dErr = -p.maxD
		}
	}
	p.iErr += err * dt
	if p.iErr > p.maxIntegral {
		p.iErr = p.maxIntegral
	} else if p.iErr < -p.maxIntegral {
		p.iErr = -p.maxIntegral
	}
	p.lastErr = err
	p.primed = true
	return p.kp*err + p.ki*p.iErr + p.kd*dErr
}

// Gains tunes the precise-alignment feedback controller.
type Gains struct {
	PositionKP, PositionKI, PositionKD float64
	HeadingKP, HeadingKI, HeadingKD    float64
}

func DefaultGains() Gains {
	return Gains{
		PositionKP: 3.0, PositionKI: 0.02, PositionKD: 0.05,
		HeadingKP: 4.0, HeadingKI: 0.03, HeadingKD: 0.02,
	}
}

// holonomicController computes robot-relative chassis speeds from live pose
// error against a target, one evaluation per control tick.
type holonomicController struct {
	x, y, theta pid
	constraints PathConstraints
	tolerance   geometry.Pose
}

func newHolonomicController(gains Gains, constraints PathConstraints, tolerance geometry.Pose) *holonomicController {
	mkPos := func() pid {
		return pid{
			kp: gains.PositionKP, ki: gains.PositionKI, kd: gains.PositionKD,
			maxIntegral: 0.3, maxD: 100,
		}
	}
	return &holonomicController{
		x: mkPos(),
		y: mkPos(),
		theta: pid{
			kp: gains.HeadingKP, ki: gains.HeadingKI, kd: gains.HeadingKD,
			maxIntegral: 0.3, maxD: 100,
		},
		constraints: constraints,
		tolerance:   tolerance,
	}
}

func (h *holonomicController) reset() {
	h.x.reset()
	h.y.reset()
	h.theta.reset()
}

// calculate returns robot-relative speeds driving current toward target.
func (h *holonomicController) calculate(current, target geometry.Pose, dt float64) kinematics.ChassisSpeeds {
	fieldVX := h.x.update(target.X-current.X, dt)
	fieldVY := h.y.update(target.Y-current.Y, dt)
	omega := h.theta.update(geometry.NormalizeAngle(target.Heading-current.Heading), dt)

	// Cap the translational speed without changing its direction.
	if norm := math.Hypot(fieldVX, fieldVY); norm > h.constraints.MaxVelocityMPS && norm > 0 {
		scale := h.constraints.MaxVelocityMPS / norm
		fieldVX *= scale
		fieldVY *= scale
	}
	if omega > h.constraints.MaxAngularVelocityRadS {
		omega = h.constraints.MaxAngularVelocityRadS
	} else if omega < -h.constraints.MaxAngularVelocityRadS {
		omega = -h.constraints.MaxAngularVelocityRadS
	}

	return kinematics.FromFieldRelative(
		kinematics.ChassisSpeeds{VX: fieldVX, VY: fieldVY, Omega: omega},
		current.Heading)
}

// atReference reports whether current is within tolerance of target.
func (h *holonomicController) atReference(current, target geometry.Pose) bool {
	return current.WithinTolerance(target, h.tolerance)
}
