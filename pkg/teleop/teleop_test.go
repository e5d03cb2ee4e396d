package teleop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swervebot/go-drivecore/pkg/geometry"
)

func axisEvent(axis uint8, value int16) *Event {
	return &Event{Type: EventTypeAxis, Number: axis, Value: value}
}

func buttonPress(button uint8) *Event {
	return &Event{Type: EventTypeButton, Number: button, Value: 1}
}

func TestStickMapping(t *testing.T) {
	d := NewDriver(Limits{MaxLinearMPS: 4, MaxAngularRadSec: 6}, nil)

	// Full stick up is full speed forward.
	d.HandleEvent(axisEvent(AxisLStickY, -axisMax))
	speeds, fieldRelative, done := d.Tick(geometry.Pose{}, 0.02)
	assert.False(t, done)
	assert.True(t, fieldRelative)
	assert.InDelta(t, 4, speeds.VX, 1e-9)
	assert.Zero(t, speeds.VY)
	assert.Zero(t, speeds.Omega)

	// Right stick left is positive (counter-clockwise) rotation.
	d.HandleEvent(axisEvent(AxisRStickX, -axisMax))
	speeds, _, _ = d.Tick(geometry.Pose{}, 0.02)
	assert.InDelta(t, 6, speeds.Omega, 1e-9)
}

func TestDeadbandZeroesSmallDeflections(t *testing.T) {
	d := NewDriver(Limits{MaxLinearMPS: 4, MaxAngularRadSec: 6}, nil)
	d.HandleEvent(axisEvent(AxisLStickY, axisMax/50)) // 2%, inside deadband
	speeds, _, _ := d.Tick(geometry.Pose{}, 0.02)
	assert.Zero(t, speeds.VX)
}

func TestSquaredInputsSoftenCentre(t *testing.T) {
	d := NewDriver(Limits{MaxLinearMPS: 4, MaxAngularRadSec: 6}, nil)
	d.HandleEvent(axisEvent(AxisLStickY, -axisMax/2))
	speeds, _, _ := d.Tick(geometry.Pose{}, 0.02)
	// Half deflection commands well under half speed.
	assert.Greater(t, speeds.VX, 0.0)
	assert.Less(t, speeds.VX, 2.0)
}

func TestFrameToggleAndStop(t *testing.T) {
	d := NewDriver(Limits{MaxLinearMPS: 4, MaxAngularRadSec: 6}, nil)

	d.HandleEvent(buttonPress(ButtonOptions))
	_, fieldRelative, _ := d.Tick(geometry.Pose{}, 0.02)
	assert.False(t, fieldRelative)

	d.HandleEvent(axisEvent(AxisLStickY, -axisMax))
	d.HandleEvent(buttonPress(ButtonShare))
	speeds, _, _ := d.Tick(geometry.Pose{}, 0.02)
	assert.Zero(t, speeds.VX)
}

func TestCancelCompletesWithZeroSpeeds(t *testing.T) {
	d := NewDriver(Limits{MaxLinearMPS: 4, MaxAngularRadSec: 6}, nil)
	d.HandleEvent(axisEvent(AxisLStickY, -axisMax))
	d.Cancel()
	speeds, _, done := d.Tick(geometry.Pose{}, 0.02)
	assert.True(t, done)
	assert.Zero(t, speeds.VX)
}
