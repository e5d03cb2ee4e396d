package moduleio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"

	"github.com/swervebot/go-drivecore/pkg/geometry"
	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// Register map of the module controller board.
const (
	RegDriveEncoder  = 0x10 // 32 bits, ungeared revolutions, 1/4096 fixed point
	RegDriveVelocity = 0x14 // 16 bits, ungeared rev/s, 1/256 fixed point
	RegSteerEncoder  = 0x16 // 16 bits, absolute, 1/4096 of a revolution
	RegDrivePower    = 0x20 // int8, -127..127
	RegSteerPower    = 0x21 // int8, -127..127
	RegBrakeMode     = 0x22 // 1 = brake, 0 = coast

	encoderTicksPerRev = 4096
	velocityLSB        = 1.0 / 256

	// Gear ratio for SDS MK4i L2 modules.
	driveGearRatio = (50.0 / 14.0) * (17.0 / 27.0) * (45.0 / 15.0)
)

var moduleAddrs = [4]int{0x40, 0x41, 0x42, 0x43}

type port interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
}

// HardwareModule talks to one module controller over I2C.  The drive and
// steer odometry streams are registered with the sampler so the high-rate
// loop buffers them between control ticks.
type HardwareModule struct {
	index int
	dev   port

	// Absolute steer encoder reading, in radians, observed with the wheel
	// pointing straight ahead.  Calibrated per module.
	steerOffset float64

	lock      sync.Mutex
	connected bool

	driveSignal *odosampler.Signal
	steerSignal *odosampler.Signal
}

// NewHardwareModule opens the module controller for the given module index
// (0..3, front-left first).  An out-of-range index is a fatal configuration
// error, never defaulted.
func NewHardwareModule(index int, deviceFile string, steerOffset float64, sampler *odosampler.Sampler) (*HardwareModule, error) {
	if index < 0 || index >= len(moduleAddrs) {
		return nil, errors.Errorf("invalid module index %d", index)
	}
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, moduleAddrs[index])
	if err != nil {
		return nil, errors.Wrapf(err, "opening module %d", index)
	}
	m := &HardwareModule{
		index:       index,
		dev:         dev,
		steerOffset: steerOffset,
		connected:   true,
	}
	m.driveSignal = sampler.RegisterSignal(
		fmt.Sprintf("module%d/drive", index), m.readWheelRevolutions)
	m.steerSignal = sampler.RegisterSignal(
		fmt.Sprintf("module%d/steer", index), m.readSteerAngle)
	return m, nil
}

func (m *HardwareModule) readWheelRevolutions() (float64, error) {
	var buf [4]byte
	if err := m.dev.ReadReg(RegDriveEncoder, buf[:]); err != nil {
		m.setConnected(false)
		return 0, err
	}
	m.setConnected(true)
	ticks := int32(binary.BigEndian.Uint32(buf[:]))
	ungeared := float64(ticks) / encoderTicksPerRev
	return ungeared / driveGearRatio, nil
}

func (m *HardwareModule) readSteerAngle() (float64, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(RegSteerEncoder, buf[:]); err != nil {
		m.setConnected(false)
		return 0, err
	}
	m.setConnected(true)
	raw := float64(binary.BigEndian.Uint16(buf[:])) / encoderTicksPerRev
	return geometry.NormalizeAngle(raw*2*math.Pi - m.steerOffset), nil
}

func (m *HardwareModule) setConnected(c bool) {
	m.lock.Lock()
	m.connected = c
	m.lock.Unlock()
}

func (m *HardwareModule) UpdateInputs(inputs *ModuleInputs) {
	var driveDegraded, steerDegraded bool
	inputs.OdometryWheelRevolutions, driveDegraded =
		m.driveSignal.Drain(inputs.OdometryWheelRevolutions)
	inputs.OdometrySteerAngles, steerDegraded =
		m.steerSignal.Drain(inputs.OdometrySteerAngles)
	inputs.Degraded = driveDegraded || steerDegraded

	m.lock.Lock()
	inputs.Connected = m.connected
	m.lock.Unlock()

	var buf [2]byte
	if err := m.dev.ReadReg(RegDriveVelocity, buf[:]); err == nil {
		inputs.WheelVelocityRevPerSec =
			float64(int16(binary.BigEndian.Uint16(buf[:]))) * velocityLSB / driveGearRatio
	}
	if n := len(inputs.OdometrySteerAngles); n > 0 {
		inputs.SteerAngle = inputs.OdometrySteerAngles[n-1].Value
	}
}

func (m *HardwareModule) SetDrivePower(power float64) {
	m.writePower(RegDrivePower, power)
}

func (m *HardwareModule) SetSteerPower(power float64) {
	m.writePower(RegSteerPower, power)
}

func (m *HardwareModule) SetBrakeMode(brake bool) {
	v := byte(0)
	if brake {
		v = 1
	}
	_ = m.dev.WriteReg(RegBrakeMode, []byte{v})
}

func (m *HardwareModule) writePower(reg byte, power float64) {
	_ = m.dev.WriteReg(reg, []byte{byte(scaleAndClamp(power, 127))})
}

func scaleAndClamp(value, multiplier float64) int8 {
	multiplied := value * multiplier
	if multiplied <= math.MinInt8 {
		return math.MinInt8
	}
	if multiplied >= math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(multiplied)
}

var _ Module = (*HardwareModule)(nil)

// HardwareGyro integrates the yaw-rate register of an IMU into a heading
// estimate.  The integration happens in the sampler's read callback, so the
// buffered samples already carry headings.
type HardwareGyro struct {
	dev port

	lock      sync.Mutex
	connected bool
	yaw       float64
	rate      float64
	lastRead  time.Time

	signal *odosampler.Signal
}

const (
	RegGyroYawRate = 0x47 // 16 bits, signed

	gyroDegreesPerLSB = 1000.0 / 32768
)

func NewHardwareGyro(deviceFile string, addr int, sampler *odosampler.Sampler) (*HardwareGyro, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrap(err, "opening gyro")
	}
	g := &HardwareGyro{dev: dev, connected: true}
	g.signal = sampler.RegisterSignal("gyro/yaw", g.readYaw)
	return g, nil
}

func (g *HardwareGyro) readYaw() (float64, error) {
	var buf [2]byte
	if err := g.dev.ReadReg(RegGyroYawRate, buf[:]); err != nil {
		g.lock.Lock()
		g.connected = false
		g.lock.Unlock()
		return 0, err
	}
	rate := geometry.Degrees(float64(int16(binary.BigEndian.Uint16(buf[:]))) * gyroDegreesPerLSB)

	g.lock.Lock()
	defer g.lock.Unlock()
	now := time.Now()
	if !g.lastRead.IsZero() {
		g.yaw = geometry.NormalizeAngle(g.yaw + rate*now.Sub(g.lastRead).Seconds())
	}
	g.lastRead = now
	g.rate = rate
	g.connected = true
	return g.yaw, nil
}

func (g *HardwareGyro) UpdateInputs(inputs *GyroInputs) {
	inputs.OdometryYaw, inputs.Degraded = g.signal.Drain(inputs.OdometryYaw)

	g.lock.Lock()
	inputs.Connected = g.connected
	inputs.Yaw = g.yaw
	inputs.YawRateRadSec = g.rate
	g.lock.Unlock()
}

var _ Gyro = (*HardwareGyro)(nil)
