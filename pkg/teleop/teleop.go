// Package teleop maps gamepad input to chassis speed commands.  The left
// stick translates, the right stick rotates, and the driver acts as a motion
// command so it shares the same exclusive drive authority as automated
// commands.
package teleop

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
)

const (
	axisMax  = 32767
	deadband = 0.08
)

// Limits scales full stick deflection to chassis speeds.
type Limits struct {
	MaxLinearMPS     float64
	MaxAngularRadSec float64
}

// Driver turns joystick events into ChassisSpeeds.  HandleEvent may be
// called from the joystick read goroutine while the control loop calls Tick.
type Driver struct {
	log    *zap.Logger
	limits Limits

	mu            sync.Mutex
	vx, vy, omega float64 // unit-scaled stick positions
	fieldRelative bool

	cancelled atomic.Bool
}

func NewDriver(limits Limits, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		log:           log,
		limits:        limits,
		fieldRelative: true,
	}
}

// HandleEvent updates the demanded speeds.  Unmapped buttons and axes are
// ignored.
func (d *Driver) HandleEvent(event *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch event.Type {
	case EventTypeAxis:
		v := applyDeadband(float64(event.Value) / axisMax)
		switch event.Number {
		case AxisLStickY:
			d.vx = -v // stick up is negative, robot forward is positive
		case AxisLStickX:
			d.vy = -v
		case AxisRStickX:
			d.omega = -v
		}
	case EventTypeButton:
		if event.Value != 1 {
			return
		}
		switch event.Number {
		case ButtonOptions:
			d.fieldRelative = !d.fieldRelative
			d.log.Info("drive frame toggled", zap.Bool("fieldRelative", d.fieldRelative))
		case ButtonShare:
			d.vx, d.vy, d.omega = 0, 0, 0
		}
	}
}

// Cancel releases the drive on the next tick.
func (d *Driver) Cancel() {
	d.cancelled.Store(true)
}

// Tick reports the demanded speeds.  It never completes on its own; it runs
// until cancelled.
func (d *Driver) Tick(current geometry.Pose, dt float64) (kinematics.ChassisSpeeds, bool, bool) {
	if d.cancelled.Load() {
		return kinematics.ChassisSpeeds{}, false, true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Squared inputs give finer control near the centre.
	speeds := kinematics.ChassisSpeeds{
		VX:    squareSigned(d.vx) * d.limits.MaxLinearMPS,
		VY:    squareSigned(d.vy) * d.limits.MaxLinearMPS,
		Omega: squareSigned(d.omega) * d.limits.MaxAngularRadSec,
	}
	return speeds, d.fieldRelative, false
}

func applyDeadband(v float64) float64 {
	if math.Abs(v) < deadband {
		return 0
	}
	// Rescale so output still spans the full range outside the deadband.
	return math.Copysign((math.Abs(v)-deadband)/(1-deadband), v)
}

func squareSigned(v float64) float64 {
	return math.Copysign(v*v, v)
}
