// Command teleop drives the simulated robot from a gamepad.  The left stick
// translates, the right stick rotates, Options toggles field/robot relative
// driving, Share stops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swervebot/go-drivecore/pkg/config"
	"github.com/swervebot/go-drivecore/pkg/drivetrain"
	"github.com/swervebot/go-drivecore/pkg/fieldsim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/odosampler"
	"github.com/swervebot/go-drivecore/pkg/teleop"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to robot YAML config")
		device  = flag.String("joystick", defaultDevice(), "joystick device")
	)
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, *cfgPath, *device); err != nil {
		log.Fatal("teleop failed", zap.Error(err))
	}
}

func defaultDevice() string {
	if dev := os.Getenv("JOYSTICK_DEVICE"); dev != "" {
		return dev
	}
	return "/dev/input/js0"
}

func run(log *zap.Logger, cfgPath, device string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Keep retrying the device so the pad can be plugged in late.
	var j *teleop.Joystick
	for {
		j, err = teleop.NewJoystick(device)
		if err == nil {
			break
		}
		log.Warn("joystick not available, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
	defer j.Close()
	log.Info("joystick opened", zap.String("device", device))

	world, err := cfg.BuildField(fieldsim.WithTimestep(cfg.ControlTick()), fieldsim.WithLogger(log))
	if err != nil {
		return err
	}
	sampler := odosampler.New(
		odosampler.WithInterval(cfg.SampleInterval()),
		odosampler.WithBufferCap(cfg.Sampler.BufferCap),
		odosampler.WithLogger(log),
	)
	drive, _, err := drivetrain.NewSim(cfg.Robot.Name, cfg.Profile(), world, sampler,
		geometry.NewPose(cfg.Field.WidthM/2, cfg.Field.HeightM/2, 0), log)
	if err != nil {
		return err
	}

	driver := teleop.NewDriver(teleop.Limits{
		MaxLinearMPS:     cfg.Robot.MaxLinearVelocityMPS,
		MaxAngularRadSec: cfg.Robot.MaxAngularVelocity,
	}, log)
	if err := drive.StartCommand(driver); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			event, err := j.ReadEvent()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			driver.HandleEvent(event)
		}
	})
	g.Go(func() error {
		sampler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		drive.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		driver.Cancel()
		// Unblock the event reader.
		j.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
