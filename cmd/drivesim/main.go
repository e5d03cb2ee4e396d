// Command drivesim runs the motion stack against the physics simulation:
// one vision-capable robot auto-aligning to a target pose while benched
// opponents wait off-field.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swervebot/go-drivecore/pkg/autoalign"
	"github.com/swervebot/go-drivecore/pkg/chassissim"
	"github.com/swervebot/go-drivecore/pkg/config"
	"github.com/swervebot/go-drivecore/pkg/drivetrain"
	"github.com/swervebot/go-drivecore/pkg/fieldsim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to robot YAML config (defaults apply if empty)")
		targetX   = flag.Float64("x", 10, "alignment target X, metres")
		targetY   = flag.Float64("y", 4, "alignment target Y, metres")
		targetDeg = flag.Float64("heading", 90, "alignment target heading, degrees")
		opponents = flag.Int("opponents", 2, "number of benched opponent robots")
	)
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, *cfgPath, geometry.NewPose(*targetX, *targetY, geometry.Degrees(*targetDeg)), *opponents); err != nil {
		log.Fatal("drivesim failed", zap.Error(err))
	}
}

func run(log *zap.Logger, cfgPath string, target geometry.Pose, opponents int) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	inUse, err := cfg.Marshal()
	if err == nil {
		log.Info("config in use", zap.ByteString("yaml", inUse))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	world, err := cfg.BuildField(fieldsim.WithTimestep(cfg.ControlTick()), fieldsim.WithLogger(log))
	if err != nil {
		return err
	}
	sampler := odosampler.New(
		odosampler.WithInterval(cfg.SampleInterval()),
		odosampler.WithBufferCap(cfg.Sampler.BufferCap),
		odosampler.WithLogger(log),
	)

	start := geometry.NewPose(1, 1, 0)
	drive, chassis, err := drivetrain.NewSim(cfg.Robot.Name, cfg.Profile(), world, sampler, start, log)
	if err != nil {
		return err
	}

	for i := 0; i < opponents; i++ {
		opp, err := chassissim.New(fmt.Sprintf("opponent-%d", i), cfg.Profile())
		if err != nil {
			return err
		}
		if err := world.AddChassis(opp); err != nil {
			return err
		}
		opp.Bench()
	}

	aligner, err := autoalign.New(autoalign.StraightLineFinder{}, autoalign.Config{
		TargetPose:  func() geometry.Pose { return target },
		Tolerance:   cfg.AlignTolerance(),
		Constraints: cfg.AlignConstraints(),
		Gains:       cfg.AlignGains(),
	}, log)
	if err != nil {
		return err
	}
	if err := drive.StartCommand(aligner); err != nil {
		return err
	}
	log.Info("aligning",
		zap.String("robot", chassis.Name()),
		zap.Float64("target.x", target.X),
		zap.Float64("target.y", target.Y),
		zap.Float64("target.deg", target.Heading*180/math.Pi))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sampler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		drive.Run(ctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			pose := drive.Pose()
			log.Info("pose",
				zap.Float64("x", pose.X),
				zap.Float64("y", pose.Y),
				zap.Float64("deg", pose.Heading*180/math.Pi))
			if !drive.ActiveCommand() {
				log.Info("alignment complete")
				cancel()
				return nil
			}
		}
	})
	return g.Wait()
}
