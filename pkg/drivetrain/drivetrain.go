// Package drivetrain owns the fixed-rate control loop of a swerve robot:
// drain the odometry buffers, fuse the pose, evaluate the active motion
// command, issue chassis speeds, and (in simulation) advance the physics
// world.  One tick fully completes before the next begins.
package drivetrain

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/chassissim"
	"github.com/swervebot/go-drivecore/pkg/fieldsim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
	"github.com/swervebot/go-drivecore/pkg/moduleio"
	"github.com/swervebot/go-drivecore/pkg/odometry"
	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// ErrCommandActive is returned when a motion command is started while
// another still holds the drive.
var ErrCommandActive = errors.New("another motion command owns the drive")

// Command is a per-tick motion behavior, such as an auto-alignment.  It
// holds exclusive authority over the drive from StartCommand until it
// reports done.
type Command interface {
	// Tick returns the commanded speeds, whether they are field-relative,
	// and whether the command has ended.  A command that ends must output
	// zero speeds on its final tick.
	Tick(current geometry.Pose, dt float64) (kinematics.ChassisSpeeds, bool, bool)
}

// Canceler is implemented by commands that support external interruption.
type Canceler interface {
	Cancel()
}

// Drivetrain composes the module IO, the sampler-fed pose estimator and,
// in simulation mode, the chassis body and physics world.
type Drivetrain struct {
	log       *zap.Logger
	kin       *kinematics.Swerve
	modules   [kinematics.NumModules]moduleio.Module
	gyro      moduleio.Gyro
	estimator *odometry.Estimator

	dt            float64
	maxWheelSpeed float64
	steerKP       float64

	// Simulation-only collaborators; nil on real hardware.
	chassis *chassissim.Chassis
	world   *fieldsim.World

	inputs     [kinematics.NumModules]moduleio.ModuleInputs
	gyroInputs moduleio.GyroInputs

	cmdMu     sync.Mutex
	activeCmd Command
}

type Option func(*Drivetrain)

func WithLogger(log *zap.Logger) Option {
	return func(d *Drivetrain) {
		if log != nil {
			d.log = log
		}
	}
}

// WithSimulation attaches the physics world and this robot's chassis body;
// Periodic then steps the world after issuing commands.
func WithSimulation(world *fieldsim.World, chassis *chassissim.Chassis) Option {
	return func(d *Drivetrain) {
		d.world = world
		d.chassis = chassis
		d.dt = world.Timestep()
	}
}

func WithMaxWheelSpeed(mps float64) Option {
	return func(d *Drivetrain) { d.maxWheelSpeed = mps }
}

func New(kin *kinematics.Swerve, modules [kinematics.NumModules]moduleio.Module, gyro moduleio.Gyro, estimator *odometry.Estimator, opts ...Option) *Drivetrain {
	d := &Drivetrain{
		log:           zap.NewNop(),
		kin:           kin,
		modules:       modules,
		gyro:          gyro,
		estimator:     estimator,
		dt:            0.02,
		maxWheelSpeed: 4.5,
		steerKP:       4,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewSim assembles a complete simulated drivetrain: chassis body in the
// given world, sim module/gyro backends registered with the sampler, and a
// pose estimator.  The chassis starts at the given pose.
func NewSim(name string, profile chassissim.Profile, world *fieldsim.World, sampler *odosampler.Sampler, start geometry.Pose, log *zap.Logger) (*Drivetrain, *chassissim.Chassis, error) {
	chassis, err := chassissim.New(name, profile, chassissim.WithVision(), chassissim.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	if err := world.AddChassis(chassis); err != nil {
		return nil, nil, err
	}
	chassis.SetPose(start)

	kin, err := kinematics.New(kinematics.RectangularOffsets(profile.WheelBaseM, profile.TrackWidthM))
	if err != nil {
		return nil, nil, err
	}

	var modules [kinematics.NumModules]moduleio.Module
	for i := 0; i < kinematics.NumModules; i++ {
		m := i
		modules[i] = moduleio.NewSimModule(i, sampler,
			func() (float64, error) { return chassis.WheelRevolutions(m) },
			func() (float64, error) { return chassis.SteerAngle(m) },
		)
	}
	gyro := moduleio.NewSimGyro(sampler, chassis.GyroYaw).WithYawRate(chassis.YawRate)

	estimator := odometry.NewEstimator(kin, profile.WheelRadiusM, start, log)
	d := New(kin, modules, gyro, estimator,
		WithLogger(log),
		WithSimulation(world, chassis),
		WithMaxWheelSpeed(profile.MaxLinearVelocityMPS))
	return d, chassis, nil
}

// Pose returns the fused pose estimate.
func (d *Drivetrain) Pose() geometry.Pose {
	return d.estimator.Pose()
}

// SetPose teleports the robot: the estimate, and in simulation the body.
func (d *Drivetrain) SetPose(p geometry.Pose) {
	d.estimator.SetPose(p)
	if d.chassis != nil {
		d.chassis.SetPose(p)
	}
}

// SubmitPoseCorrection queues an absolute pose measurement, failing fast
// when this robot variant has no vision capability.
func (d *Drivetrain) SubmitPoseCorrection(pose geometry.Pose, timestamp time.Time, confidence float64) error {
	if d.chassis != nil && !d.chassis.SupportsVisionCorrection() {
		return chassissim.ErrVisionUnsupported
	}
	d.estimator.SubmitPoseCorrection(pose, timestamp, confidence)
	return nil
}

// StartCommand hands the drive to cmd until it reports done.  Only one
// command may be active at a time.
func (d *Drivetrain) StartCommand(cmd Command) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	if d.activeCmd != nil {
		return ErrCommandActive
	}
	d.activeCmd = cmd
	return nil
}

// CancelCommand interrupts the active command, if any.  The cancellation is
// observed on the next tick, which zeroes the commanded speed.
func (d *Drivetrain) CancelCommand() {
	d.cmdMu.Lock()
	cmd := d.activeCmd
	d.cmdMu.Unlock()
	if c, ok := cmd.(Canceler); ok {
		c.Cancel()
	}
}

// ActiveCommand reports whether a command currently owns the drive.
func (d *Drivetrain) ActiveCommand() bool {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.activeCmd != nil
}

// Periodic is one control tick.  Call it at the fixed control rate, from a
// single goroutine.
func (d *Drivetrain) Periodic() {
	for m := range d.modules {
		d.modules[m].UpdateInputs(&d.inputs[m])
	}
	d.gyro.UpdateInputs(&d.gyroInputs)
	pose := d.estimator.Update(&d.inputs, &d.gyroInputs)

	d.cmdMu.Lock()
	cmd := d.activeCmd
	d.cmdMu.Unlock()
	if cmd != nil {
		speeds, fieldRelative, done := cmd.Tick(pose, d.dt)
		d.RunVelocity(speeds, fieldRelative)
		if done {
			d.cmdMu.Lock()
			d.activeCmd = nil
			d.cmdMu.Unlock()
		}
	}

	if d.world != nil {
		d.world.Step()
	}
}

// RunVelocity is the drive-command boundary.  In simulation the speeds go
// to the chassis body; on hardware they become per-module power commands.
func (d *Drivetrain) RunVelocity(speeds kinematics.ChassisSpeeds, fieldRelative bool) {
	if d.chassis != nil {
		d.chassis.SetChassisSpeeds(speeds, fieldRelative)
		return
	}

	if fieldRelative {
		speeds = kinematics.FromFieldRelative(speeds, d.Pose().Heading)
	}
	states := d.kin.ToModuleStates(speeds, d.maxWheelSpeed)
	for i, st := range states {
		d.modules[i].SetDrivePower(st.SpeedMPS / d.maxWheelSpeed)
		steerErr := geometry.NormalizeAngle(st.Angle - d.inputs[i].SteerAngle)
		d.modules[i].SetSteerPower(clamp(d.steerKP*steerErr, 1))
	}
}

// Stop zeroes every motor.
func (d *Drivetrain) Stop() {
	d.RunVelocity(kinematics.ChassisSpeeds{}, false)
	if d.chassis != nil {
		d.chassis.StopCommanding()
	}
}

// Run ticks the control loop at the fixed rate until the context is
// cancelled, then stops the motors.
func (d *Drivetrain) Run(ctx context.Context) {
	defer d.log.Info("control loop exited")
	defer d.Stop()

	ticker := time.NewTicker(time.Duration(d.dt * float64(time.Second)))
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.Periodic()
	}
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
