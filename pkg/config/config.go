// Package config loads the robot and field configuration from YAML.
// Defaults are defined in code and the file overrides them, so a partial
// file is fine.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/swervebot/go-drivecore/pkg/autoalign"
	"github.com/swervebot/go-drivecore/pkg/chassissim"
	"github.com/swervebot/go-drivecore/pkg/fieldsim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
)

type RobotConfig struct {
	Name                 string
	MassKG               float64
	LengthM              float64
	WidthM               float64
	WheelBaseM           float64
	TrackWidthM          float64
	WheelRadiusM         float64
	MaxLinearVelocityMPS float64
	MaxLinearAccelMPS2   float64
	MaxAngularVelocity   float64
	Friction             float64
	Restitution          float64
	Vision               bool
}

type SamplerConfig struct {
	IntervalMS int
	BufferCap  int
}

type ControlConfig struct {
	TickMS        int
	MaxWheelSpeed float64
	SteerKP       float64
}

type GainsConfig struct {
	PositionKP float64
	PositionKI float64
	PositionKD float64
	HeadingKP  float64
	HeadingKI  float64
	HeadingKD  float64
}

type AlignConfig struct {
	MaxVelocityMPS         float64
	MaxAccelMPS2           float64
	MaxAngularVelocityRadS float64
	ToleranceXM            float64
	ToleranceYM            float64
	ToleranceDeg           float64
	Gains                  GainsConfig
}

// ObstacleConfig is one static field element.  Kind is "box" or "segment".
type ObstacleConfig struct {
	Kind       string
	X          float64
	Y          float64
	HeadingDeg float64
	// Box dimensions.
	WidthM  float64
	HeightM float64
	// Segment endpoints, relative to (X, Y).
	X2 float64
	Y2 float64
}

type FieldConfig struct {
	WidthM    float64
	HeightM   float64
	Border    bool
	Obstacles []ObstacleConfig
}

type Config struct {
	Robot   RobotConfig
	Sampler SamplerConfig
	Control ControlConfig
	Align   AlignConfig
	Field   FieldConfig
}

func Default() Config {
	p := chassissim.DefaultProfile()
	return Config{
		Robot: RobotConfig{
			Name:                 "main",
			MassKG:               p.MassKG,
			LengthM:              p.LengthM,
			WidthM:               p.WidthM,
			WheelBaseM:           p.WheelBaseM,
			TrackWidthM:          p.TrackWidthM,
			WheelRadiusM:         p.WheelRadiusM,
			MaxLinearVelocityMPS: p.MaxLinearVelocityMPS,
			MaxLinearAccelMPS2:   p.MaxLinearAccelMPS2,
			MaxAngularVelocity:   p.MaxAngularVelocityRadS,
			Friction:             p.Friction,
			Restitution:          p.Restitution,
			Vision:               true,
		},
		Sampler: SamplerConfig{IntervalMS: 4, BufferCap: 64},
		Control: ControlConfig{TickMS: 20, MaxWheelSpeed: 4.5, SteerKP: 4},
		Align: AlignConfig{
			MaxVelocityMPS:         4,
			MaxAccelMPS2:           10,
			MaxAngularVelocityRadS: 6,
			ToleranceXM:            0.03,
			ToleranceYM:            0.03,
			ToleranceDeg:           2,
			Gains: GainsConfig{
				PositionKP: 3.0, PositionKI: 0.02, PositionKD: 0.05,
				HeadingKP: 4.0, HeadingKI: 0.03, HeadingKD: 0.02,
			},
		},
		Field: FieldConfig{WidthM: 16, HeightM: 8, Border: true},
	}
}

// Load reads path and overlays it on the defaults.  A missing file is an
// error; pass "" to get the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	r := c.Robot
	switch {
	case r.MassKG <= 0:
		return errors.New("robot mass must be positive")
	case r.LengthM <= 0 || r.WidthM <= 0:
		return errors.New("robot dimensions must be positive")
	case r.WheelBaseM <= 0 || r.TrackWidthM <= 0:
		return errors.New("wheel base and track width must be positive")
	case r.WheelRadiusM <= 0:
		return errors.New("wheel radius must be positive")
	case r.MaxLinearVelocityMPS <= 0 || r.MaxLinearAccelMPS2 <= 0 || r.MaxAngularVelocity <= 0:
		return errors.New("robot velocity and acceleration limits must be positive")
	}
	if c.Sampler.IntervalMS <= 0 || c.Sampler.BufferCap <= 0 {
		return errors.New("sampler interval and buffer cap must be positive")
	}
	if c.Control.TickMS <= 0 || c.Control.MaxWheelSpeed <= 0 {
		return errors.New("control tick and wheel speed must be positive")
	}
	if c.Align.Gains.PositionKP <= 0 || c.Align.Gains.HeadingKP <= 0 {
		return errors.New("alignment proportional gains must be positive")
	}
	if c.Field.WidthM <= 0 || c.Field.HeightM <= 0 {
		return errors.New("field dimensions must be positive")
	}
	for i, o := range c.Field.Obstacles {
		switch o.Kind {
		case "box":
			if o.WidthM <= 0 || o.HeightM <= 0 {
				return errors.Errorf("obstacle %d: box dimensions must be positive", i)
			}
		case "segment":
			if o.X == o.X2 && o.Y == o.Y2 {
				return errors.Errorf("obstacle %d: segment endpoints coincide", i)
			}
		default:
			return errors.Errorf("obstacle %d: unknown kind %q", i, o.Kind)
		}
	}
	return nil
}

// Marshal renders the config, for echoing the values actually in use.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c Config) Profile() chassissim.Profile {
	r := c.Robot
	return chassissim.Profile{
		MaxLinearVelocityMPS:   r.MaxLinearVelocityMPS,
		MaxLinearAccelMPS2:     r.MaxLinearAccelMPS2,
		MaxAngularVelocityRadS: r.MaxAngularVelocity,
		MassKG:                 r.MassKG,
		LengthM:                r.LengthM,
		WidthM:                 r.WidthM,
		WheelBaseM:             r.WheelBaseM,
		TrackWidthM:            r.TrackWidthM,
		WheelRadiusM:           r.WheelRadiusM,
		Friction:               r.Friction,
		Restitution:            r.Restitution,
	}
}

func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.Sampler.IntervalMS) * time.Millisecond
}

func (c Config) ControlTick() float64 {
	return float64(c.Control.TickMS) / 1000
}

func (c Config) AlignConstraints() autoalign.PathConstraints {
	return autoalign.PathConstraints{
		MaxVelocityMPS:         c.Align.MaxVelocityMPS,
		MaxAccelMPS2:           c.Align.MaxAccelMPS2,
		MaxAngularVelocityRadS: c.Align.MaxAngularVelocityRadS,
	}
}

func (c Config) AlignGains() autoalign.Gains {
	g := c.Align.Gains
	return autoalign.Gains{
		PositionKP: g.PositionKP, PositionKI: g.PositionKI, PositionKD: g.PositionKD,
		HeadingKP: g.HeadingKP, HeadingKI: g.HeadingKI, HeadingKD: g.HeadingKD,
	}
}

func (c Config) AlignTolerance() geometry.Pose {
	return geometry.Pose{
		X:       c.Align.ToleranceXM,
		Y:       c.Align.ToleranceYM,
		Heading: geometry.Degrees(c.Align.ToleranceDeg),
	}
}

// BuildField constructs the physics world described by the field section.
func (c Config) BuildField(opts ...fieldsim.Option) (*fieldsim.World, error) {
	world := fieldsim.New(opts...)
	if c.Field.Border {
		if err := world.AddBorder(c.Field.WidthM, c.Field.HeightM); err != nil {
			return nil, err
		}
	}
	for i, o := range c.Field.Obstacles {
		pose := geometry.NewPose(o.X, o.Y, geometry.Degrees(o.HeadingDeg))
		var shape fieldsim.Shape
		switch o.Kind {
		case "box":
			shape = fieldsim.Box{Width: o.WidthM, Height: o.HeightM}
		case "segment":
			shape = fieldsim.Segment{
				A: geometry.Translation{},
				B: geometry.Translation{X: o.X2 - o.X, Y: o.Y2 - o.Y},
			}
			pose = geometry.NewPose(o.X, o.Y, 0)
		}
		if err := world.AddObstacle(shape, pose); err != nil {
			return nil, errors.Wrapf(err, "obstacle %d", i)
		}
	}
	return world, nil
}
