package protocol

// TaskStart asks a station to run a repair task for one side.
type TaskStart struct {
	Side      string `json:"side"`
	RequestID string `json:"request_id,omitempty"`
}

// TaskAbort abandons the station's active task.
type TaskAbort struct {
	Reason string `json:"reason,omitempty"`
}

// TaskStatus reports task progress back to the dispatcher.
type TaskStatus struct {
	StationID string `json:"station_id"`
	TaskID    string `json:"task_id,omitempty"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Item      int    `json:"item,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Detail    string `json:"detail,omitempty"`
}

// StationRegister is sent once on startup.
type StationRegister struct {
	StationID string   `json:"station_id"`
	Hostname  string   `json:"hostname"`
	Version   string   `json:"version"`
	Sides     []string `json:"sides"`
}

// StationHeartbeat is sent periodically.
type StationHeartbeat struct {
	StationID string `json:"station_id"`
	Uptime    int64  `json:"uptime_s"`
	Stage     string `json:"stage"`
	TaskID    string `json:"task_id,omitempty"`
}
