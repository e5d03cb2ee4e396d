// Package chassissim models a holonomic chassis as a dynamic rigid body.
// Commanded chassis speeds become velocity constraints on the body, bounded
// by the robot's physical profile; the body's resulting motion is turned
// back into sensor-like outputs (wheel revolutions, gyro yaw) so the whole
// odometry pipeline can run against simulation unchanged.
package chassissim

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/jakecoffman/cp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
)

// ErrVisionUnsupported is returned when a pose correction is submitted to a
// robot variant that has no vision hardware, such as a simulated opponent.
var ErrVisionUnsupported = errors.New("this robot does not support vision pose corrections")

// Profile is the physical envelope of a chassis.  Commands beyond the
// limits are clamped, never rejected.
type Profile struct {
	MaxLinearVelocityMPS   float64
	MaxLinearAccelMPS2     float64
	MaxAngularVelocityRadS float64

	MassKG  float64
	WidthM  float64 // bumper-to-bumper, left-right
	LengthM float64 // bumper-to-bumper, front-back

	WheelBaseM   float64
	TrackWidthM  float64
	WheelRadiusM float64

	Friction    float64
	Restitution float64
}

// DefaultProfile matches a typical competition robot.
func DefaultProfile() Profile {
	return Profile{
		MaxLinearVelocityMPS:   4,
		MaxLinearAccelMPS2:     10,
		MaxAngularVelocityRadS: 2 * math.Pi,
		MassKG:                 60,
		WidthM:                 0.8,
		LengthM:                0.9,
		WheelBaseM:             0.6,
		TrackWidthM:            0.6,
		WheelRadiusM:           0.05,
		Friction:               0.8,
		Restitution:            0.3,
	}
}

// State is the chassis lifecycle within the simulation.
type State int

const (
	// Active chassis are simulated normally on the field.
	Active State = iota
	// Benched chassis are parked at the off-field holding pose and ignore
	// commands, so unused opponents cause no spurious collisions.
	Benched
)

// BenchPose is the off-field holding pose for benched chassis.
var BenchPose = geometry.NewPose(-5, 5, 0)

type command struct {
	speeds        kinematics.ChassisSpeeds
	fieldRelative bool
	active        bool
}

// Chassis is one simulated robot body.  All mutation happens from the
// control-loop context via the owning World; the sensor read methods are the
// only ones safe to call from the sampler goroutine.
type Chassis struct {
	id      uuid.UUID
	name    string
	profile Profile
	kin     *kinematics.Swerve
	log     *zap.Logger

	body  *cp.Body
	shape *cp.Shape

	state         State
	visionCapable bool
	cmd           command

	// Pose at the start of the current step, recorded by ApplyControl so
	// UpdateSensors can recover the exact twist the body moved through.
	prePose geometry.Pose

	// Sensor outputs, cached after each step.  The mutex is the only
	// state shared with the sampler goroutine.
	sensorMu  sync.Mutex
	wheelRevs [kinematics.NumModules]float64
	steerAngs [kinematics.NumModules]float64
	yaw       float64
	yawRate   float64
}

type Option func(*Chassis)

// WithVision marks the chassis as accepting external pose corrections.
func WithVision() Option {
	return func(c *Chassis) { c.visionCapable = true }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Chassis) {
		if log != nil {
			c.log = log
		}
	}
}

func New(name string, profile Profile, opts ...Option) (*Chassis, error) {
	kin, err := kinematics.New(kinematics.RectangularOffsets(profile.WheelBaseM, profile.TrackWidthM))
	if err != nil {
		return nil, errors.Wrapf(err, "chassis %q", name)
	}

	body := cp.NewBody(profile.MassKG,
		cp.MomentForBox(profile.MassKG, profile.LengthM, profile.WidthM))
	shape := cp.NewBox(body, profile.LengthM, profile.WidthM, 0)
	shape.SetFriction(profile.Friction)
	shape.SetElasticity(profile.Restitution)

	c := &Chassis{
		id:      uuid.New(),
		name:    name,
		profile: profile,
		kin:     kin,
		log:     zap.NewNop(),
		body:    body,
		shape:   shape,
		state:   Active,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chassis) ID() uuid.UUID    { return c.id }
func (c *Chassis) Name() string     { return c.name }
func (c *Chassis) Profile() Profile { return c.profile }
func (c *Chassis) State() State     { return c.state }

// SupportsVisionCorrection reports whether external pose corrections may be
// applied to this robot.  Simulated opponents typically do not.
func (c *Chassis) SupportsVisionCorrection() bool { return c.visionCapable }

// Body exposes the underlying rigid body so the world can insert it into
// the physics space.  Nothing else may mutate its transform.
func (c *Chassis) Body() *cp.Body   { return c.body }
func (c *Chassis) Shape() *cp.Shape { return c.shape }

// Pose returns the body's current simulated pose.
func (c *Chassis) Pose() geometry.Pose {
	p := c.body.Position()
	return geometry.NewPose(p.X, p.Y, c.body.Angle())
}

// SetPose teleports the body, zeroing its velocity.  Used for test setup
// and for placing non-controllable bodies.
func (c *Chassis) SetPose(p geometry.Pose) {
	c.body.SetPosition(cp.Vector{X: p.X, Y: p.Y})
	c.body.SetAngle(p.Heading)
	c.body.SetVelocity(0, 0)
	c.body.SetAngularVelocity(0)
}

// SetChassisSpeeds commands the chassis.  The command persists until
// replaced; it is clamped against the profile every step.  Commanding a
// benched chassis is a warned no-op.
func (c *Chassis) SetChassisSpeeds(speeds kinematics.ChassisSpeeds, fieldRelative bool) {
	if c.state == Benched {
		c.log.Warn("ignoring speeds command to benched chassis", zap.String("chassis", c.name))
		return
	}
	c.cmd = command{speeds: speeds, fieldRelative: fieldRelative, active: true}
}

// StopCommanding releases velocity control; the body coasts and decays.
func (c *Chassis) StopCommanding() {
	c.cmd = command{}
}

// Bench parks the chassis at the off-field holding pose and stops
// simulating commands for it.
func (c *Chassis) Bench() {
	c.state = Benched
	c.cmd = command{}
	c.SetPose(BenchPose)
}

// Activate returns a benched chassis to the field at the given pose.
func (c *Chassis) Activate(pose geometry.Pose) {
	c.state = Active
	c.SetPose(pose)
}

// ApplyControl converts the current command into body velocities, honoring
// the profile's velocity and acceleration limits.  Called by the world once
// per step, before the physics advance.
func (c *Chassis) ApplyControl(dt float64) {
	c.prePose = c.Pose()
	if c.state == Benched {
		c.body.SetVelocity(0, 0)
		c.body.SetAngularVelocity(0)
		return
	}

	vel := c.body.Velocity()
	current := kinematics.ChassisSpeeds{VX: vel.X, VY: vel.Y, Omega: c.body.AngularVelocity()}

	var target kinematics.ChassisSpeeds
	if c.cmd.active {
		target = c.cmd.speeds
		if !c.cmd.fieldRelative {
			target = kinematics.ToFieldRelative(target, c.body.Angle())
		}
		target = clampMagnitude(target, c.profile.MaxLinearVelocityMPS)
		target.Omega = clamp(target.Omega, c.profile.MaxAngularVelocityRadS)
	} else {
		// Uncommanded: friction bleeds the velocity off.
		decay := math.Max(0, 1-c.profile.Friction*dt*4)
		target = kinematics.ChassisSpeeds{
			VX:    current.VX * decay,
			VY:    current.VY * decay,
			Omega: current.Omega * decay,
		}
	}

	// Acceleration limit: bound how far the velocity may move this step.
	maxDelta := c.profile.MaxLinearAccelMPS2 * dt
	dv := geometry.Translation{X: target.VX - current.VX, Y: target.VY - current.VY}
	if norm := dv.Norm(); norm > maxDelta && norm > 0 {
		dv = dv.Scale(maxDelta / norm)
	}

	c.body.SetVelocity(current.VX+dv.X, current.VY+dv.Y)
	c.body.SetAngularVelocity(target.Omega)
}

// UpdateSensors refreshes the cached sensor-like outputs from the body's
// post-step state, so collisions show up in the simulated odometry.  Called
// by the world once per step, after the physics advance.
func (c *Chassis) UpdateSensors(dt float64) {
	post := c.Pose()

	// Recover the body-frame twist the step actually moved the body
	// through, including any collision response.  Dividing by dt gives the
	// equivalent constant chassis speeds for the step; pushing those
	// through the inverse kinematics and back preserves the displacement
	// exactly, so the odometry pipeline reconstructs intra-step motion
	// with no heading-sweep error.
	dx, dy, dtheta := c.prePose.Log(post)
	states := c.kin.ToModuleStates(
		kinematics.ChassisSpeeds{VX: dx / dt, VY: dy / dt, Omega: dtheta / dt},
		math.MaxFloat64)

	circum := 2 * math.Pi * c.profile.WheelRadiusM

	c.sensorMu.Lock()
	defer c.sensorMu.Unlock()
	for i, st := range states {
		c.wheelRevs[i] += st.SpeedMPS * dt / circum
		if math.Abs(st.SpeedMPS) > 1e-6 {
			c.steerAngs[i] = st.Angle
		}
	}
	c.yaw = post.Heading
	c.yawRate = c.body.AngularVelocity()
}

// WheelRevolutions reads the simulated drive encoder for one module.  Safe
// from the sampler goroutine.
func (c *Chassis) WheelRevolutions(module int) (float64, error) {
	if module < 0 || module >= kinematics.NumModules {
		return 0, errors.Errorf("invalid module index %d", module)
	}
	c.sensorMu.Lock()
	defer c.sensorMu.Unlock()
	return c.wheelRevs[module], nil
}

// SteerAngle reads the simulated steer encoder for one module.
func (c *Chassis) SteerAngle(module int) (float64, error) {
	if module < 0 || module >= kinematics.NumModules {
		return 0, errors.Errorf("invalid module index %d", module)
	}
	c.sensorMu.Lock()
	defer c.sensorMu.Unlock()
	return c.steerAngs[module], nil
}

// GyroYaw reads the simulated gyro heading.
func (c *Chassis) GyroYaw() (float64, error) {
	c.sensorMu.Lock()
	defer c.sensorMu.Unlock()
	return c.yaw, nil
}

// YawRate reads the simulated gyro rate.
func (c *Chassis) YawRate() float64 {
	c.sensorMu.Lock()
	defer c.sensorMu.Unlock()
	return c.yawRate
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

func clampMagnitude(s kinematics.ChassisSpeeds, limit float64) kinematics.ChassisSpeeds {
	norm := math.Hypot(s.VX, s.VY)
	if norm <= limit || norm == 0 {
		return s
	}
	scale := limit / norm
	s.VX *= scale
	s.VY *= scale
	return s
}
