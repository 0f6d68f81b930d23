package outbox

import (
	"context"
	"time"

	"github.com/nazeru/cart-lab-go/pkg/logging"
)

// Queue is the outbox as seen by the relay.
type Queue interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// Sender delivers one raw record, typically to kafka.
type Sender func(ctx context.Context, rec Record) error

// PG adapts a DB to Queue.
type PG struct {
	DB DB
}

func (q PG) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, q.DB, limit)
}

func (q PG) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, q.DB, id)
}

type Relay struct {
	Queue    Queue
	Send     Sender
	Batch    int
	Interval time.Duration
	Service  string
}

// RunOnce forwards one batch in id order and stops at the first send failure
// so ordering is preserved. It returns the number of records sent.
func (r Relay) RunOnce(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	recs, err := r.Queue.FetchPending(ctx, batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.Send(ctx, rec); err != nil {
			return sent, err
		}
		if err := r.Queue.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run polls until ctx is done.
func (r Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			logging.Log(logging.Err(logging.Fields{Service: r.Service, Step: "outbox_relay", Status: "error"}, err))
		} else if n > 0 {
			logging.Log(logging.Fields{Service: r.Service, Step: "outbox_relay", Status: "sent", Message: "forwarded outbox batch"})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
