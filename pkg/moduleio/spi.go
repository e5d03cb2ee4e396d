package moduleio

import (
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/swervebot/go-drivecore/pkg/odosampler"
)

// NewHardwareGyroSPI opens the IMU over SPI instead of I2C.  Preferred on
// boards where the IMU hangs off the SPI bus; register map is the same.
func NewHardwareGyroSPI(deviceFile string, sampler *odosampler.Sampler) (*HardwareGyro, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(deviceFile)
	if err != nil {
		return nil, err
	}
	c, err := p.Connect(physic.KiloHertz*1000, spi.Mode3, 8)
	if err != nil {
		return nil, err
	}

	g := &HardwareGyro{dev: &spiPort{c: c}, connected: true}
	g.signal = sampler.RegisterSignal("gyro/yaw", g.readYaw)
	return g, nil
}

// spiPort adapts an SPI connection to the register read/write interface the
// drivers are written against.
type spiPort struct {
	c spi.Conn

	r, w []byte
}

const (
	spiWrite = 0x00
	spiRead  = 0x80
)

func (s *spiPort) ReadReg(reg byte, buf []byte) error {
	// Read and write buffers span the whole transaction: the address byte
	// goes out first, the response comes back shifted by one.
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	s.w[0] = spiRead | reg
	if err := s.c.Tx(s.w[:bufLen], s.r[:bufLen]); err != nil {
		return err
	}
	copy(buf, s.r[1:])
	return nil
}

func (s *spiPort) WriteReg(reg byte, buf []byte) error {
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	s.w[0] = spiWrite | reg
	copy(s.w[1:], buf)
	return s.c.Tx(s.w[:bufLen], s.r[:bufLen])
}

func (s *spiPort) ensureBuf(l int) {
	if len(s.r) < l {
		s.w = make([]byte, l)
		s.r = make([]byte, l)
	} else {
		for i := range s.w[:l] {
			s.w[i] = 0
			s.r[i] = 0
		}
	}
}
