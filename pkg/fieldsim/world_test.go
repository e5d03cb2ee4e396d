package fieldsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swervebot/go-drivecore/pkg/chassissim"
	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/kinematics"
)

func TestDegenerateShapesRejected(t *testing.T) {
	w := New()
	err := w.AddObstacle(Segment{A: geometry.Translation{X: 1, Y: 1}, B: geometry.Translation{X: 1, Y: 1}}, geometry.Pose{})
	require.ErrorIs(t, err, ErrDegenerateShape)

	err = w.AddObstacle(Box{Width: 0, Height: 1}, geometry.Pose{})
	require.ErrorIs(t, err, ErrDegenerateShape)

	err = w.AddObstacle(Box{Width: 0.3, Height: 0.3}, geometry.NewPose(2, 2, 0.4))
	require.NoError(t, err)
}

func buildWorld(t *testing.T) (*World, *chassissim.Chassis) {
	t.Helper()
	w := New()
	require.NoError(t, w.AddBorder(16, 8))
	c, err := chassissim.New("main", chassissim.DefaultProfile(), chassissim.WithVision())
	require.NoError(t, err)
	require.NoError(t, w.AddChassis(c))
	c.SetPose(geometry.NewPose(2, 4, 0))
	return w, c
}

func TestDeterministicSteps(t *testing.T) {
	run := func() geometry.Pose {
		w, c := buildWorld(t)
		c.SetChassisSpeeds(kinematics.ChassisSpeeds{VX: 1.5, Omega: 0.4}, false)
		w.StepN(150)
		return c.Pose()
	}
	a := run()
	b := run()
	assert.Equal(t, a, b)
}

func TestWallStopsChassis(t *testing.T) {
	w, c := buildWorld(t)
	// Drive hard at the right-hand border for plenty of time to reach it.
	c.SetChassisSpeeds(kinematics.ChassisSpeeds{VX: 3}, true)
	w.StepN(500)

	p := c.Pose()
	// The chassis cannot pass through the wall at x=16; the collision is
	// resolved, not thrown.
	assert.Less(t, p.X, 16.0)
	assert.Greater(t, p.X, 10.0)
}

func TestOverlappingInsertionResolves(t *testing.T) {
	w := New()
	a, err := chassissim.New("a", chassissim.DefaultProfile())
	require.NoError(t, err)
	b, err := chassissim.New("b", chassissim.DefaultProfile())
	require.NoError(t, err)
	require.NoError(t, w.AddChassis(a))
	require.NoError(t, w.AddChassis(b))

	// Both bodies at the same pose: the solver pushes them apart over the
	// following steps without panicking.
	a.SetPose(geometry.NewPose(3, 3, 0))
	b.SetPose(geometry.NewPose(3, 3, 0))
	w.StepN(50)

	dist := a.Pose().Translation().Minus(b.Pose().Translation()).Norm()
	assert.Greater(t, dist, 0.1)
}

func TestBenchedChassisStaysPut(t *testing.T) {
	w, c := buildWorld(t)
	opponent, err := chassissim.New("opponent", chassissim.DefaultProfile())
	require.NoError(t, err)
	require.NoError(t, w.AddChassis(opponent))
	opponent.Bench()

	c.SetChassisSpeeds(kinematics.ChassisSpeeds{VX: 2}, false)
	w.StepN(100)
	assert.Equal(t, chassissim.BenchPose, opponent.Pose())
}
