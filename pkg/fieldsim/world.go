// Package fieldsim owns the 2D physics scene for field simulation: static
// obstacles plus the dynamic chassis bodies, advanced by one fixed timestep
// per control cycle.
package fieldsim

import (
	"github.com/jakecoffman/cp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swervebot/go-drivecore/pkg/chassissim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
)

// ErrDegenerateShape is returned when an obstacle shape has no area or
// extent.
var ErrDegenerateShape = errors.New("degenerate obstacle shape")

// Obstacle fixtures use the same surface properties for every obstacle.
const (
	obstacleFriction    = 0.8
	obstacleRestitution = 0.6
)

// Shape is an obstacle outline.
type Shape interface {
	validate() error
	build(body *cp.Body) *cp.Shape
}

// Segment is a wall between two points, field coordinates relative to the
// obstacle pose.
type Segment struct {
	A, B geometry.Translation
}

func (s Segment) validate() error {
	if s.A.Minus(s.B).Norm() < 1e-9 {
		return errors.Wrap(ErrDegenerateShape, "zero-length segment")
	}
	return nil
}

func (s Segment) build(body *cp.Body) *cp.Shape {
	return cp.NewSegment(body, cp.Vector{X: s.A.X, Y: s.A.Y}, cp.Vector{X: s.B.X, Y: s.B.Y}, 0.01)
}

// Box is a rectangular obstacle centred on the obstacle pose.
type Box struct {
	Width, Height float64
}

func (b Box) validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return errors.Wrapf(ErrDegenerateShape, "box %gx%g", b.Width, b.Height)
	}
	return nil
}

func (b Box) build(body *cp.Body) *cp.Shape {
	return cp.NewBox(body, b.Width, b.Height, 0)
}

// World is the single authority over all body positions during simulation.
// It must only be mutated from the control-loop context.
type World struct {
	space *cp.Space
	dt    float64
	log   *zap.Logger

	stepping bool
	chassis  []*chassissim.Chassis
}

type Option func(*World)

// WithTimestep overrides the default 20 ms fixed step.
func WithTimestep(dtSeconds float64) Option {
	return func(w *World) { w.dt = dtSeconds }
}

func WithLogger(log *zap.Logger) Option {
	return func(w *World) {
		if log != nil {
			w.log = log
		}
	}
}

func New(opts ...Option) *World {
	space := cp.NewSpace()
	space.SetGravity(cp.Vector{}) // field sim is top-down: no gravity
	w := &World{
		space: space,
		dt:    0.02,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Timestep returns the fixed step in seconds.
func (w *World) Timestep() float64 { return w.dt }

// AddObstacle inserts an immovable body at the given pose.  Fails only on
// degenerate shape input; overlapping bodies are fine, the collision solver
// resolves them.
func (w *World) AddObstacle(shape Shape, pose geometry.Pose) error {
	if w.stepping {
		return errors.New("cannot add obstacle during a step")
	}
	if err := shape.validate(); err != nil {
		return err
	}
	body := cp.NewStaticBody()
	body.SetPosition(cp.Vector{X: pose.X, Y: pose.Y})
	body.SetAngle(pose.Heading)

	s := shape.build(body)
	s.SetFriction(obstacleFriction)
	s.SetElasticity(obstacleRestitution)

	w.space.AddBody(body)
	w.space.AddShape(s)
	return nil
}

// AddBorder is a convenience for the rectangular field boundary: four wall
// segments enclosing (0,0)..(width,height).
func (w *World) AddBorder(width, height float64) error {
	corners := []geometry.Translation{
		{X: 0, Y: 0}, {X: width, Y: 0}, {X: width, Y: height}, {X: 0, Y: height},
	}
	for i := range corners {
		seg := Segment{A: corners[i], B: corners[(i+1)%len(corners)]}
		if err := w.AddObstacle(seg, geometry.Pose{}); err != nil {
			return err
		}
	}
	return nil
}

// AddChassis inserts a dynamic chassis body.  The same chassis object later
// receives speed commands and exposes its simulated pose.
func (w *World) AddChassis(c *chassissim.Chassis) error {
	if w.stepping {
		return errors.New("cannot add chassis during a step")
	}
	w.space.AddBody(c.Body())
	w.space.AddShape(c.Shape())
	w.chassis = append(w.chassis, c)
	w.log.Debug("chassis added to world", zap.String("chassis", c.Name()))
	return nil
}

// Chassis bodies at exactly coincident positions generate no contact, so
// the solver would never push them apart.  Bodies closer than coincidentEps
// are nudged before the solver runs; the nudge is deterministic.
const (
	coincidentEps   = 1e-6
	separationNudge = 1e-3
)

func (w *World) separateCoincident() {
	for i := 0; i < len(w.chassis); i++ {
		for j := i + 1; j < len(w.chassis); j++ {
			a, b := w.chassis[i].Body(), w.chassis[j].Body()
			if b.Position().Sub(a.Position()).Length() >= coincidentEps {
				continue
			}
			b.SetPosition(b.Position().Add(cp.Vector{X: separationNudge * float64(j), Y: 0}))
			w.log.Debug("separated coincident chassis",
				zap.String("a", w.chassis[i].Name()),
				zap.String("b", w.chassis[j].Name()))
		}
	}
}

// Step advances every body by exactly one fixed timestep: commands become
// velocities, the physics advance, then the simulated sensors are refreshed
// from the post-step body states.  Deterministic given identical prior state
// and commands.
func (w *World) Step() {
	w.stepping = true
	w.separateCoincident()
	for _, c := range w.chassis {
		c.ApplyControl(w.dt)
	}
	w.space.Step(w.dt)
	for _, c := range w.chassis {
		c.UpdateSensors(w.dt)
	}
	w.stepping = false
}

// StepN runs n steps, for tests and catch-up.
func (w *World) StepN(n int) {
	for i := 0; i < n; i++ {
		w.Step()
	}
}
