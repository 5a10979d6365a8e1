package protocol

// Message types.
const (
	// Dispatcher -> station (task topic)
	TypeTaskStart = "task.start"
	TypeTaskAbort = "task.abort"

	// Station -> dispatcher (status topic)
	TypeTaskStatus       = "task.status"
	TypeStationRegister  = "station.register"
	TypeStationHeartbeat = "station.heartbeat"
)

// Roles for Address.Role.
const (
	RoleStation    = "station"
	RoleDispatcher = "dispatcher"
)

// Task status values carried by TaskStatus.
const (
	StatusStarted      = "started"
	StatusItemSent     = "item_sent"
	StatusItemRepaired = "item_repaired"
	StatusCompleted    = "completed"
	StatusError        = "error"
)

// Version is the envelope format version.
const Version = 1
