package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/recolist/ledger-adapter/internal/delivery/subscribe"
	"github.com/recolist/ledger-adapter/internal/ledger"
	"github.com/recolist/ledger-adapter/internal/platform/cursor"
)

// EventSink mirrors mapped events to an external system. Sink failures are
// logged and never gate cursor advancement.
type EventSink interface {
	Publish(ctx context.Context, event ledger.ChainEvent) error
}

// Poller advances a cursor over ledger blocks, extracts the watched event
// kinds and fans them out. It is the only component with background state;
// the whole loop runs in a single owner goroutine, so poll passes never
// overlap and never race on the cursor.
type Poller struct {
	backend     Backend
	registry    *Registry
	mapper      *EventMapper
	subscribers *subscribe.Registry
	sink        EventSink
	store       cursor.Store
	interval    time.Duration
	startBlock  uint64
	logger      *slog.Logger

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastProcessed uint64
}

// NewPoller wires an event poller. sink may be nil.
func NewPoller(backend Backend, registry *Registry, mapper *EventMapper, subscribers *subscribe.Registry, sink EventSink, store cursor.Store, cfg PollerConfig, logger *slog.Logger) *Poller {
	return &Poller{
		backend:     backend,
		registry:    registry,
		mapper:      mapper,
		subscribers: subscribers,
		sink:        sink,
		store:       store,
		interval:    cfg.Interval,
		startBlock:  cfg.StartBlock,
		logger:      logger.With("component", "event-poller"),
	}
}

// Start resumes from the persisted cursor (falling back to the configured
// start block, then to the connect-time height) and launches the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	last, ok, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		if p.startBlock > 0 {
			last = p.startBlock
		} else {
			last, err = p.backend.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("read block height: %w", err)
			}
		}
	}
	p.lastProcessed = last

	// The loop outlives the caller's context; Stop owns cancellation.
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	p.logger.Info("starting event poller", "from_block", last, "interval", p.interval)
	go p.run(runCtx)
	return nil
}

// Stop halts the timer loop and waits for an in-flight pass to finish.
// Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("event poller stopped")
}

// IsRunning reports whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastProcessed returns the current cursor position.
func (p *Poller) LastProcessed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProcessed
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

// pass visits every block in (lastProcessed, current] in increasing order.
// A failing block abandons the pass with the cursor unchanged, so the same
// range is retried on the next tick: at-least-once, never at-most-once.
func (p *Poller) pass(ctx context.Context) {
	current, err := p.backend.BlockNumber(ctx)
	if err != nil {
		p.logger.Warn("failed to read block height", "error", err)
		return
	}

	last := p.LastProcessed()
	if current <= last {
		return
	}

	p.logger.Debug("poll pass", "from", last+1, "to", current)

	for block := last + 1; block <= current; block++ {
		events, err := p.collectBlock(ctx, block)
		if err != nil {
			p.logger.Error("block processing failed, range will be retried",
				"block", block,
				"error", err,
			)
			return
		}
		for _, event := range events {
			p.emit(ctx, event)
		}
	}

	p.mu.Lock()
	p.lastProcessed = current
	p.mu.Unlock()

	if err := p.store.Save(ctx, current); err != nil {
		p.logger.Warn("failed to persist cursor", "block", current, "error", err)
	}
}

// collectBlock extracts every watched event emitted in exactly this block,
// ordered by log position.
func (p *Poller) collectBlock(ctx context.Context, block uint64) ([]ledger.ChainEvent, error) {
	header, err := p.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("get header %d: %w", block, err)
	}
	blockTime := int64(header.Time)

	var logs []types.Log
	for _, w := range p.mapper.Watched() {
		contract, err := p.registry.Get(w.Contract)
		if err != nil {
			return nil, err
		}
		event, ok := contract.ABI.Events[w.Event]
		if !ok {
			continue
		}

		matched, err := p.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(block),
			ToBlock:   new(big.Int).SetUint64(block),
			Addresses: []common.Address{contract.Address},
			Topics:    [][]common.Hash{{event.ID}},
		})
		if err != nil {
			return nil, fmt.Errorf("filter %s.%s in block %d: %w", w.Contract, w.Event, block, err)
		}
		logs = append(logs, matched...)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Index < logs[j].Index
	})

	events := make([]ledger.ChainEvent, 0, len(logs))
	for _, log := range logs {
		event, ok, err := p.mapper.MapLog(log, blockTime)
		if err != nil {
			return nil, fmt.Errorf("map event in block %d: %w", block, err)
		}
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (p *Poller) emit(ctx context.Context, event ledger.ChainEvent) {
	p.subscribers.Notify(event)

	if p.sink != nil {
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Warn("sink publish failed",
				"event_id", event.EventID,
				"error", err,
			)
		}
	}
}
