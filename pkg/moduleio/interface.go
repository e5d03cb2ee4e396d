// Package moduleio is the capability boundary between the drivetrain and a
// particular swerve-module / gyro backend.  Real hardware, simulation and a
// no-op dummy all implement the same small interfaces; the drivetrain never
// knows which it is talking to.
package moduleio

import (
	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// Module is one steered, driven wheel module.
type Module interface {
	// UpdateInputs drains the module's buffered odometry samples and
	// refreshes the instantaneous readings.  Called once per control tick.
	UpdateInputs(inputs *ModuleInputs)

	// SetDrivePower commands the drive motor, -1 to 1.
	SetDrivePower(power float64)

	// SetSteerPower commands the steer motor, -1 to 1.
	SetSteerPower(power float64)

	// SetBrakeMode switches the motors between brake and coast.
	SetBrakeMode(brake bool)
}

// Gyro is the chassis yaw sensor.
type Gyro interface {
	UpdateInputs(inputs *GyroInputs)
}

// ModuleInputs is refreshed in place each control tick.  The odometry slices
// hold every high-rate sample buffered since the previous tick, in timestamp
// order; their backing arrays are reused between ticks.
type ModuleInputs struct {
	Connected bool

	// Degraded is set when the sampler dropped or substituted samples for
	// either odometry stream since the last tick.
	Degraded bool

	// OdometryWheelRevolutions holds geared wheel positions in revolutions.
	OdometryWheelRevolutions []odosampler.Sample
	// OdometrySteerAngles holds steer facings in radians, robot frame.
	OdometrySteerAngles []odosampler.Sample

	WheelVelocityRevPerSec float64
	SteerAngle             float64
}

// GyroInputs mirrors ModuleInputs for the yaw stream.
type GyroInputs struct {
	Connected bool
	Degraded  bool

	// OdometryYaw holds headings in radians.
	OdometryYaw []odosampler.Sample

	Yaw           float64
	YawRateRadSec float64
}
