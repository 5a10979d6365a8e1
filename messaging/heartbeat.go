package messaging

import (
	"log"
	"os"
	"sync"
	"time"

	"repairedge/protocol"
)

// StageFunc reports the workflow stage and active task id for heartbeats.
type StageFunc func() (stage, taskID string)

// Heartbeater sends station.register on startup and station.heartbeat
// periodically.
type Heartbeater struct {
	client    Publisher
	stationID string
	version   string
	sides     []string
	topic     string
	interval  time.Duration
	stage     StageFunc
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewHeartbeater(client Publisher, stationID, version string, sides []string, topic string, interval time.Duration, stage StageFunc) *Heartbeater {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Heartbeater{
		client:    client,
		stationID: stationID,
		version:   version,
		sides:     sides,
		topic:     topic,
		interval:  interval,
		stage:     stage,
		stopCh:    make(chan struct{}),
	}
}

// Start sends an initial registration and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.sendRegister()
	go h.loop()
}

func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) src() protocol.Address {
	return protocol.Address{Role: protocol.RoleStation, Station: h.stationID}
}

func (h *Heartbeater) sendRegister() {
	hostname, _ := os.Hostname()
	env, err := protocol.NewEnvelope(protocol.TypeStationRegister, h.src(), protocol.Address{Role: protocol.RoleDispatcher},
		&protocol.StationRegister{
			StationID: h.stationID,
			Hostname:  hostname,
			Version:   h.version,
			Sides:     h.sides,
		})
	if err != nil {
		log.Printf("heartbeater: build register: %v", err)
		return
	}
	if err := publishEnvelope(h.client, h.topic, env); err != nil {
		log.Printf("heartbeater: send register: %v", err)
	} else {
		log.Printf("heartbeater: sent station.register (station=%s)", h.stationID)
	}
}

func (h *Heartbeater) sendHeartbeat() {
	hb := &protocol.StationHeartbeat{
		StationID: h.stationID,
		Uptime:    int64(time.Since(h.startTime).Seconds()),
	}
	if h.stage != nil {
		hb.Stage, hb.TaskID = h.stage()
	}
	env, err := protocol.NewEnvelope(protocol.TypeStationHeartbeat, h.src(), protocol.Address{Role: protocol.RoleDispatcher}, hb)
	if err != nil {
		log.Printf("heartbeater: build heartbeat: %v", err)
		return
	}
	if err := publishEnvelope(h.client, h.topic, env); err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}
