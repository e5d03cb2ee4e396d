package moduleio

// DummyModule and DummyGyro are no-op backends, useful when bringing up a
// controller without hardware attached.
type DummyModule struct{}

func (DummyModule) UpdateInputs(inputs *ModuleInputs) {
	inputs.Connected = false
	inputs.OdometryWheelRevolutions = inputs.OdometryWheelRevolutions[:0]
	inputs.OdometrySteerAngles = inputs.OdometrySteerAngles[:0]
}

func (DummyModule) SetDrivePower(power float64) {}
func (DummyModule) SetSteerPower(power float64) {}
func (DummyModule) SetBrakeMode(brake bool)     {}

type DummyGyro struct{}

func (DummyGyro) UpdateInputs(inputs *GyroInputs) {
	inputs.Connected = false
	inputs.OdometryYaw = inputs.OdometryYaw[:0]
}

var (
	_ Module = DummyModule{}
	_ Gyro   = DummyGyro{}
)
