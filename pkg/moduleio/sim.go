package moduleio

import (
	"fmt"

	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// SimModule is the simulation backend: odometry comes from read callbacks
// into the chassis simulation, registered with the same sampler the hardware
// variant uses so the rest of the pipeline cannot tell the difference.
type SimModule struct {
	driveSignal *odosampler.Signal
	steerSignal *odosampler.Signal

	wheelVelocity func() float64
	onDrivePower  func(float64)
	onSteerPower  func(float64)
}

func NewSimModule(index int, sampler *odosampler.Sampler, wheelRevolutions, steerAngle func() (float64, error)) *SimModule {
	m := &SimModule{}
	m.driveSignal = sampler.RegisterSignal(
		fmt.Sprintf("sim/module%d/drive", index), wheelRevolutions)
	m.steerSignal = sampler.RegisterSignal(
		fmt.Sprintf("sim/module%d/steer", index), steerAngle)
	return m
}

// WithWheelVelocity supplies the instantaneous wheel-velocity reading.
func (m *SimModule) WithWheelVelocity(f func() float64) *SimModule {
	m.wheelVelocity = f
	return m
}

// WithPowerSinks routes direct power commands into the simulation, for
// direct-control testing.
func (m *SimModule) WithPowerSinks(drive, steer func(float64)) *SimModule {
	m.onDrivePower = drive
	m.onSteerPower = steer
	return m
}

func (m *SimModule) UpdateInputs(inputs *ModuleInputs) {
	var driveDegraded, steerDegraded bool
	inputs.OdometryWheelRevolutions, driveDegraded =
		m.driveSignal.Drain(inputs.OdometryWheelRevolutions)
	inputs.OdometrySteerAngles, steerDegraded =
		m.steerSignal.Drain(inputs.OdometrySteerAngles)
	inputs.Degraded = driveDegraded || steerDegraded
	inputs.Connected = true
	if m.wheelVelocity != nil {
		inputs.WheelVelocityRevPerSec = m.wheelVelocity()
	}
	if n := len(inputs.OdometrySteerAngles); n > 0 {
		inputs.SteerAngle = inputs.OdometrySteerAngles[n-1].Value
	}
}

func (m *SimModule) SetDrivePower(power float64) {
	if m.onDrivePower != nil {
		m.onDrivePower(power)
	}
}

func (m *SimModule) SetSteerPower(power float64) {
	if m.onSteerPower != nil {
		m.onSteerPower(power)
	}
}

func (m *SimModule) SetBrakeMode(brake bool) {}

var _ Module = (*SimModule)(nil)

// SimGyro feeds the yaw stream from the simulated chassis.
type SimGyro struct {
	signal  *odosampler.Signal
	yawRate func() float64
}

func NewSimGyro(sampler *odosampler.Sampler, yaw func() (float64, error)) *SimGyro {
	return &SimGyro{signal: sampler.RegisterSignal("sim/gyro/yaw", yaw)}
}

func (g *SimGyro) WithYawRate(f func() float64) *SimGyro {
	g.yawRate = f
	return g
}

func (g *SimGyro) UpdateInputs(inputs *GyroInputs) {
	inputs.OdometryYaw, inputs.Degraded = g.signal.Drain(inputs.OdometryYaw)
	inputs.Connected = true
	if n := len(inputs.OdometryYaw); n > 0 {
		inputs.Yaw = inputs.OdometryYaw[n-1].Value
	}
	if g.yawRate != nil {
		inputs.YawRateRadSec = g.yawRate()
	}
}

var _ Gyro = (*SimGyro)(nil)
