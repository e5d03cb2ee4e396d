// Package odometry fuses buffered per-module encoder samples and gyro
// samples into a continuously updated robot pose, and merges asynchronous
// absolute-pose corrections from external sources.
package odometry

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
	"github.com/swervebot/go-drivecore/pkg/moduleio"
	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// Correction is an absolute pose measurement from an external source such as
// a vision pipeline.
type Correction struct {
	Pose       geometry.Pose
	Timestamp  time.Time
	Confidence float64 // 0..1; 1 replaces the estimate outright
}

// Estimator owns the authoritative pose estimate for one robot.  Update is
// called from the control loop only; Pose and SubmitPoseCorrection may be
// called from any goroutine.
type Estimator struct {
	kin         *kinematics.Swerve
	wheelCircum float64
	log         *zap.Logger

	poseMu sync.Mutex
	pose   geometry.Pose

	// Per-stream baselines from the previously integrated sample.
	prevWheelRev [kinematics.NumModules]float64
	prevYaw      float64
	primed       bool
	yawPrimed    bool

	// Samples carried over when stream counts mismatched within a tick.
	carryWheel [kinematics.NumModules][]odosampler.Sample
	carrySteer [kinematics.NumModules][]odosampler.Sample
	carryYaw   []odosampler.Sample

	correctionsMu sync.Mutex
	corrections   []Correction

	staleCorrections uint64
	degradedTicks    uint64
}

func NewEstimator(kin *kinematics.Swerve, wheelRadiusM float64, initial geometry.Pose, log *zap.Logger) *Estimator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{
		kin:         kin,
		wheelCircum: 2 * math.Pi * wheelRadiusM,
		log:         log,
		pose:        initial,
	}
}

// Pose returns the current fused pose.  Safe from any goroutine; mid-tick
// readers see the estimate as of the last completed Update.
func (e *Estimator) Pose() geometry.Pose {
	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	return e.pose
}

// SetPose teleports the estimate.  Sample baselines are kept, so integration
// continues seamlessly from the new pose.
func (e *Estimator) SetPose(p geometry.Pose) {
	e.poseMu.Lock()
	e.pose = p
	e.poseMu.Unlock()
}

// StaleCorrections reports how many pose corrections were discarded as
// stale.  Observability only.
func (e *Estimator) StaleCorrections() uint64 {
	return e.staleCorrections
}

// DegradedTicks reports how many Update calls consumed degraded input data.
func (e *Estimator) DegradedTicks() uint64 {
	return e.degradedTicks
}

// SubmitPoseCorrection queues an absolute pose measurement for merging on
// the next Update.  Callable from any goroutine.
func (e *Estimator) SubmitPoseCorrection(pose geometry.Pose, timestamp time.Time, confidence float64) {
	e.correctionsMu.Lock()
	e.corrections = append(e.corrections, Correction{
		Pose:       pose,
		Timestamp:  timestamp,
		Confidence: confidence,
	})
	e.correctionsMu.Unlock()
}

// Update integrates everything buffered since the previous control tick.
// Samples are paired by index across all module streams and the gyro; only
// the minimum common count is consumed, the remainder carries over to the
// next tick.  One pose update happens per paired sample set, preserving
// intra-tick motion fidelity.
func (e *Estimator) Update(modules *[kinematics.NumModules]moduleio.ModuleInputs, gyro *moduleio.GyroInputs) geometry.Pose {
	degraded := gyro.Degraded || !gyro.Connected
	for m := range modules {
		degraded = degraded || modules[m].Degraded
		e.carryWheel[m] = append(e.carryWheel[m], modules[m].OdometryWheelRevolutions...)
		e.carrySteer[m] = append(e.carrySteer[m], modules[m].OdometrySteerAngles...)
	}
	e.carryYaw = append(e.carryYaw, gyro.OdometryYaw...)
	if degraded {
		e.degradedTicks++
	}

	useGyro := gyro.Connected
	n := math.MaxInt
	for m := range e.carryWheel {
		n = min(n, len(e.carryWheel[m]), len(e.carrySteer[m]))
	}
	if useGyro {
		n = min(n, len(e.carryYaw))
	}
	if n == math.MaxInt {
		n = 0
	}

	pose := e.Pose()
	for i := 0; i < n; i++ {
		var deltas [kinematics.NumModules]kinematics.ModuleDelta
		for m := range deltas {
			rev := e.carryWheel[m][i].Value
			if e.primed {
				deltas[m] = kinematics.ModuleDelta{
					DistanceM: (rev - e.prevWheelRev[m]) * e.wheelCircum,
					Angle:     e.carrySteer[m][i].Value,
				}
			}
			e.prevWheelRev[m] = rev
		}

		dx, dy, dthetaKin := e.kin.ToTwist(deltas)

		dtheta := dthetaKin
		if useGyro {
			yaw := e.carryYaw[i].Value
			if e.yawPrimed {
				dtheta = geometry.NormalizeAngle(yaw - e.prevYaw)
			} else {
				dtheta = 0
			}
			e.prevYaw = yaw
			e.yawPrimed = true
		}

		// The twist integrates as a constant body-frame velocity held over
		// the sample interval, so the heading sweep within the interval is
		// accounted for.
		pose = pose.Exp(dx, dy, dtheta)
		e.primed = true
	}

	for m := range e.carryWheel {
		e.carryWheel[m] = trimFront(e.carryWheel[m], n)
		e.carrySteer[m] = trimFront(e.carrySteer[m], n)
	}
	if useGyro {
		e.carryYaw = trimFront(e.carryYaw, n)
	} else {
		// Without a gyro the yaw stream is untrusted; drop it so it does
		// not gate future ticks, and re-prime on reconnection.
		e.carryYaw = e.carryYaw[:0]
		e.yawPrimed = false
	}

	pose = e.applyCorrections(pose)
	e.poseMu.Lock()
	e.pose = pose
	e.poseMu.Unlock()
	return pose
}

func (e *Estimator) applyCorrections(pose geometry.Pose) geometry.Pose {
	e.correctionsMu.Lock()
	pending := e.corrections
	e.corrections = nil
	e.correctionsMu.Unlock()

	if len(pending) == 0 {
		return pose
	}
	boundary := e.oldestUnintegrated()

	for _, c := range pending {
		if !boundary.IsZero() && c.Timestamp.Before(boundary) {
			e.staleCorrections++
			continue
		}
		conf := math.Max(0, math.Min(1, c.Confidence))
		pose = geometry.Pose{
			X: pose.X + (c.Pose.X-pose.X)*conf,
			Y: pose.Y + (c.Pose.Y-pose.Y)*conf,
			Heading: geometry.NormalizeAngle(pose.Heading +
				geometry.NormalizeAngle(c.Pose.Heading-pose.Heading)*conf),
		}
	}
	return pose
}

// oldestUnintegrated returns the timestamp of the oldest buffered sample
// that has not been folded into the pose yet, or the zero time when no
// samples are pending.
func (e *Estimator) oldestUnintegrated() time.Time {
	var oldest time.Time
	consider := func(samples []odosampler.Sample) {
		if len(samples) == 0 {
			return
		}
		if oldest.IsZero() || samples[0].Timestamp.Before(oldest) {
			oldest = samples[0].Timestamp
		}
	}
	for m := range e.carryWheel {
		consider(e.carryWheel[m])
		consider(e.carrySteer[m])
	}
	consider(e.carryYaw)
	return oldest
}

func trimFront(s []odosampler.Sample, n int) []odosampler.Sample {
	if n <= 0 {
		return s
	}
	if n >= len(s) {
		return s[:0]
	}
	remaining := copy(s, s[n:])
	return s[:remaining]
}
