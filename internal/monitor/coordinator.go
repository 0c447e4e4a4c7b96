package monitor

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/connectivity"

	"github.com/redis/go-redis/v9"
)

// startupRecheckDelay is the single delayed re-read of the best-known
// connection status after startup.
const startupRecheckDelay = 2 * time.Second

// PollInterval is the cadence of the backup status poll.
const PollInterval = 60 * time.Second

// PushSource delivers hardware signals pushed from outside the process.
// Subscribe returns an error when the channel cannot be established;
// the coordinator then runs on poll + replay only.
type PushSource interface {
	Subscribe(ctx context.Context, fn func(connectivity.Signal)) error
}

// StatusProbe reads the best-known connection status on demand. Probe
// results are derived signals: they rank below explicit push/replay
// signals.
type StatusProbe interface {
	BestKnown(ctx context.Context) (connectivity.Signal, error)
}

// Coordinator funnels redundant hardware signals (push, replay, poll)
// into the connectivity machine. Explicit signals bump a sequence
// counter; derived probe results apply only if no explicit signal
// arrived while the probe was pending.
type Coordinator struct {
	machine *connectivity.Machine
	push    PushSource
	probe   StatusProbe
	sched   clock.Scheduler

	mu        sync.Mutex
	seq       uint64
	pollTimer clock.Timer
	stopped   bool
}

func NewCoordinator(machine *connectivity.Machine, push PushSource, probe StatusProbe, sched clock.Scheduler) *Coordinator {
	return &Coordinator{machine: machine, push: push, probe: probe, sched: sched}
}

// Inject feeds one explicit signal (push webhook or manual) into the
// machine.
func (c *Coordinator) Inject(sig connectivity.Signal) {
	c.mu.Lock()
	c.seq++
	c.mu.Unlock()
	c.machine.Inject(sig)
}

// Replay feeds a batch of signals missed while the process was down,
// in order.
func (c *Coordinator) Replay(sigs []connectivity.Signal) {
	for _, sig := range sigs {
		c.Inject(sig)
	}
}

// Start performs the startup status resolution and arms the redundant
// channels. A push-subscription failure is logged and non-fatal.
func (c *Coordinator) Start(ctx context.Context) {
	if c.probe != nil {
		if sig, err := c.probe.BestKnown(ctx); err == nil {
			c.machine.Inject(sig)
		} else {
			log.Printf("startup status read failed: %v", err)
		}

		// One delayed re-check catches a status query that resolved
		// asynchronously. It yields to any fresher explicit signal.
		c.mu.Lock()
		seqAtStart := c.seq
		c.mu.Unlock()
		c.sched.AfterFunc(startupRecheckDelay, func() {
			c.applyProbe(ctx, seqAtStart)
		})
	}

	if c.push != nil {
		if err := c.push.Subscribe(ctx, c.Inject); err != nil {
			log.Printf("push subscription failed, falling back to poll+replay: %v", err)
		}
	}

	c.armPoll(ctx)
}

// Stop cancels the poll loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *Coordinator) armPoll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.probe == nil {
		return
	}
	c.pollTimer = c.sched.AfterFunc(PollInterval, func() {
		c.mu.Lock()
		seq := c.seq
		c.mu.Unlock()
		c.applyProbe(ctx, seq)
		c.armPoll(ctx)
	})
}

// applyProbe reads the best-known status and injects it unless an
// explicit signal arrived after seqBefore was captured.
func (c *Coordinator) applyProbe(ctx context.Context, seqBefore uint64) {
	sig, err := c.probe.BestKnown(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	stale := c.seq != seqBefore
	c.mu.Unlock()
	if stale {
		return
	}
	c.machine.Inject(sig)
}

// RedisPush subscribes to the hardware signal channel for one vehicle.
type RedisPush struct {
	redis     *redis.Client
	vehicleID string
}

func NewRedisPush(redisClient *redis.Client, vehicleID string) *RedisPush {
	return &RedisPush{redis: redisClient, vehicleID: vehicleID}
}

func (p *RedisPush) Subscribe(ctx context.Context, fn func(connectivity.Signal)) error {
	if p.redis == nil {
		return redis.ErrClosed
	}
	pubsub := p.redis.Subscribe(ctx, "hardware:"+p.vehicleID+":signals")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		for msg := range pubsub.Channel() {
			var sig connectivity.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				log.Printf("bad push signal payload: %v", err)
				continue
			}
			fn(sig)
		}
	}()
	return nil
}

// RedisStatusProbe reads the last reported hardware status from redis.
type RedisStatusProbe struct {
	redis     *redis.Client
	vehicleID string
}

func NewRedisStatusProbe(redisClient *redis.Client, vehicleID string) *RedisStatusProbe {
	return &RedisStatusProbe{redis: redisClient, vehicleID: vehicleID}
}

func (p *RedisStatusProbe) BestKnown(ctx context.Context) (connectivity.Signal, error) {
	if p.redis == nil {
		return connectivity.Signal{}, redis.ErrClosed
	}
	status, err := p.redis.Get(ctx, "hardware:"+p.vehicleID+":status").Result()
	if err != nil {
		return connectivity.Signal{}, err
	}

	kind := connectivity.SignalInitDisconnected
	if status == "connected" {
		kind = connectivity.SignalInitConnected
	}
	return connectivity.Signal{Kind: kind, Source: "status-probe"}, nil
}
