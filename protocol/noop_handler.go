package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleTaskStart(*Envelope, *TaskStart)               {}
func (NoOpHandler) HandleTaskAbort(*Envelope, *TaskAbort)               {}
func (NoOpHandler) HandleTaskStatus(*Envelope, *TaskStatus)             {}
func (NoOpHandler) HandleStationRegister(*Envelope, *StationRegister)   {}
func (NoOpHandler) HandleStationHeartbeat(*Envelope, *StationHeartbeat) {}

var _ MessageHandler = NoOpHandler{}
