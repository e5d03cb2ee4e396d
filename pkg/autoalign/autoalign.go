// Package autoalign drives the robot to a target pose in two phases: a
// rough path-find approach with a wide deviation band, then a precision
// feedback controller that holds the drive until pose error is within
// tolerance.
package autoalign

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
)

// PathConstraints bound the motion during both phases.
type PathConstraints struct {
	MaxVelocityMPS         float64
	MaxAccelMPS2           float64
	MaxAngularVelocityRadS float64
}

func DefaultConstraints() PathConstraints {
	return PathConstraints{MaxVelocityMPS: 4, MaxAccelMPS2: 10, MaxAngularVelocityRadS: 6}
}

// DefaultTolerance is the precise-phase pose tolerance: 3 cm and 2 degrees.
var DefaultTolerance = geometry.Pose{X: 0.03, Y: 0.03, Heading: geometry.Degrees(2)}

// RoughFollower follows the rough path produced by a path-find service,
// emitting field-relative speeds each control tick until it reports arrival
// within the rough band.
type RoughFollower interface {
	Arrived(current geometry.Pose) bool
	Speeds(current geometry.Pose) kinematics.ChassisSpeeds
}

// PathFinder is the rough path-find service boundary.  The search itself is
// external; this package only consumes the resulting follower.
type PathFinder interface {
	PathFindTo(target geometry.Pose, maxVelocity float64) RoughFollower
}

// Config is the single configuration surface for one alignment invocation.
type Config struct {
	// TargetPose is re-sampled every control tick, so a dynamic target
	// (for example one tracking a moving field element) is allowed.
	TargetPose func() geometry.Pose

	// Tolerance is the per-axis pose error allowed at completion.
	// Zero-valued means DefaultTolerance.
	Tolerance geometry.Pose

	Constraints PathConstraints
	Gains       Gains
}

// State is the alignment phase.  There is no transition back from precise
// alignment to the rough approach within one invocation.
type State int

const (
	StateRoughApproach State = iota
	StatePreciseAlignment
)

// Aligner is the two-phase alignment state machine.  Tick it once per
// control cycle; it assumes exclusive command authority over the drive for
// its whole lifetime (the drivetrain enforces that).
type Aligner struct {
	cfg    Config
	finder PathFinder
	ctrl   *holonomicController
	log    *zap.Logger

	state     State
	follower  RoughFollower
	cancelled atomic.Bool
	finished  bool
}

func New(finder PathFinder, cfg Config, log *zap.Logger) (*Aligner, error) {
	if cfg.TargetPose == nil {
		return nil, errors.New("autoalign: TargetPose supplier is required")
	}
	if finder == nil {
		return nil, errors.New("autoalign: PathFinder is required")
	}
	if cfg.Tolerance == (geometry.Pose{}) {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Constraints == (PathConstraints{}) {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.Gains == (Gains{}) {
		cfg.Gains = DefaultGains()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aligner{
		cfg:    cfg,
		finder: finder,
		ctrl:   newHolonomicController(cfg.Gains, cfg.Constraints, cfg.Tolerance),
		log:    log,
		state:  StateRoughApproach,
	}, nil
}

// State returns the current phase.
func (a *Aligner) State() State { return a.state }

// Cancel requests interruption.  Callable from any goroutine; the next Tick
// observes it and zeroes the commanded speed on that same tick.
func (a *Aligner) Cancel() {
	a.cancelled.Store(true)
}

// Tick evaluates one control cycle.  It returns the commanded speeds, which
// frame they are in, and whether the invocation has ended.  After the end
// (success or cancellation) the output is always zero.
func (a *Aligner) Tick(current geometry.Pose, dt float64) (speeds kinematics.ChassisSpeeds, fieldRelative bool, done bool) {
	if a.cancelled.Load() || a.finished {
		// Interruption or completion zeroes the output, whatever the
		// phase was.
		a.finished = true
		return kinematics.ChassisSpeeds{}, false, true
	}

	target := a.cfg.TargetPose()

	if a.state == StateRoughApproach {
		if a.follower == nil {
			a.follower = a.finder.PathFindTo(target, a.cfg.Constraints.MaxVelocityMPS)
			a.log.Info("rough approach started",
				zap.Float64("targetX", target.X), zap.Float64("targetY", target.Y))
		}
		if !a.follower.Arrived(current) {
			return a.follower.Speeds(current), true, false
		}
		a.state = StatePreciseAlignment
		a.ctrl.reset()
		a.log.Info("rough approach arrived, switching to precise alignment")
	}

	if a.ctrl.atReference(current, target) {
		a.finished = true
		a.log.Info("alignment complete",
			zap.Float64("errX", target.X-current.X),
			zap.Float64("errY", target.Y-current.Y))
		return kinematics.ChassisSpeeds{}, false, true
	}
	return a.ctrl.calculate(current, target, dt), false, false
}

// StraightLineFinder is a minimal built-in path-find service: it heads
// straight for the target at the requested speed and reports arrival inside
// the rough band.  Real deployments plug in an actual planner; this one is
// enough for open fields and for simulation tests.
type StraightLineFinder struct {
	// BandM is the arrival radius.  Zero-valued means 0.5 m.
	BandM float64
}

func (f StraightLineFinder) PathFindTo(target geometry.Pose, maxVelocity float64) RoughFollower {
	band := f.BandM
	if band == 0 {
		band = 0.5
	}
	return &straightLineFollower{target: target, band: band, maxVelocity: maxVelocity}
}

type straightLineFollower struct {
	target      geometry.Pose
	band        float64
	maxVelocity float64
}

func (s *straightLineFollower) Arrived(current geometry.Pose) bool {
	return s.target.Translation().Minus(current.Translation()).Norm() <= s.band
}

func (s *straightLineFollower) Speeds(current geometry.Pose) kinematics.ChassisSpeeds {
	to := s.target.Translation().Minus(current.Translation())
	dist := to.Norm()
	if dist < 1e-9 {
		return kinematics.ChassisSpeeds{}
	}
	// Slow down approaching the band edge so the hand-off to the precise
	// phase is gentle.
	speed := s.maxVelocity
	if dist < 2*s.band {
		speed = s.maxVelocity * dist / (2 * s.band)
	}
	v := to.Scale(speed / dist)
	return kinematics.ChassisSpeeds{VX: v.X, VY: v.Y,
		Omega: geometry.NormalizeAngle(s.target.Heading-current.Heading) * 2}
}

var _ PathFinder = StraightLineFinder{}
