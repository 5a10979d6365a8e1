package messaging

import (
	"log"
	"sync"
	"time"

	"repairedge/store"
)

const (
	outboxBatch = 50
	// Delivered messages are kept this long for inspection, then purged.
	sentRetention = 24 * time.Hour
	purgeEvery    = time.Hour
)

// Outbox is the durable queue the drainer reads from.
type Outbox interface {
	ListPendingOutbox(limit int) ([]store.OutboxMessage, error)
	AckOutbox(id int64) error
	IncrementOutboxRetries(id int64) error
	PurgeSentOutbox(age time.Duration) (int64, error)
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db       Outbox
	client   Publisher
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer.
func NewOutboxDrainer(db Outbox, client Publisher, interval time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	purge := time.NewTicker(purgeEvery)
	defer purge.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain()
		case <-purge.C:
			if n, err := d.db.PurgeSentOutbox(sentRetention); err != nil {
				log.Printf("messaging: purge outbox: %v", err)
			} else if n > 0 {
				log.Printf("messaging: purged %d delivered outbox messages", n)
			}
		}
	}
}

// Drain publishes one batch in insertion order. It stops at the first
// publish failure so later messages never overtake an earlier one.
func (d *OutboxDrainer) Drain() int {
	if !d.client.IsConnected() {
		return 0
	}
	msgs, err := d.db.ListPendingOutbox(outboxBatch)
	if err != nil {
		log.Printf("messaging: list pending outbox: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("messaging: publish outbox msg %d (%s): %v", msg.ID, msg.MsgType, err)
			d.db.IncrementOutboxRetries(msg.ID)
			break
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			log.Printf("messaging: ack outbox msg %d: %v", msg.ID, err)
		}
		sent++
	}
	return sent
}
