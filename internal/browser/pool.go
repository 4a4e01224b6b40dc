package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultIdleTimeout is how long an unused surface stays alive before it is closed.
	defaultIdleTimeout = 30 * time.Minute
	// defaultCleanupInterval is how often idle surfaces are looked for.
	defaultCleanupInterval = time.Minute
)

// ErrSurfaceBusy is returned when a surface for the account is already checked out.
var ErrSurfaceBusy = errors.New("browser surface already in use for account")

// Factory creates a fresh surface for an account.
type Factory func(ctx context.Context, accountID string) (Surface, error)

// SurfacePool hands out one surface per account.
type SurfacePool interface {
	// Acquire returns the account's surface, creating it if needed.
	// Callers must call release when they are done with the surface.
	Acquire(ctx context.Context, accountID string) (Surface, func(), error)
	// Remove closes and forgets the account's surface (for example after it broke).
	Remove(accountID string)
	Close()
}

type pooledSurface struct {
	surface  Surface
	lastUsed time.Time
	inUse    bool
}

// Pool keeps one long-lived surface per account and closes the ones that sit idle.
//
// A surface belongs to exactly one account and is never shared; while it is
// checked out, other Acquire calls for the same account fail with ErrSurfaceBusy.
type Pool struct {
	factory       Factory
	entries       map[string]*pooledSurface // accountID -> surface
	mu            sync.Mutex
	idleTimeout   time.Duration
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
	logger        *zap.Logger
}

// NewPool creates a pool with the default idle timeout.
func NewPool(factory Factory, logger *zap.Logger) *Pool {
	return NewPoolWithIdleTimeout(factory, defaultIdleTimeout, defaultCleanupInterval, logger)
}

// NewPoolWithIdleTimeout creates a pool with a configurable idle timeout and cleanup interval.
func NewPoolWithIdleTimeout(factory Factory, idleTimeout, cleanupInterval time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		factory:       factory,
		entries:       make(map[string]*pooledSurface),
		idleTimeout:   idleTimeout,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
		cleanupDone:   make(chan struct{}),
		logger:        logger,
	}
	go p.runCleanup(cleanupInterval)
	return p
}

func (p *Pool) Acquire(ctx context.Context, accountID string) (Surface, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cleanupCtx.Err() != nil {
		return nil, nil, errors.New("browser pool is closed")
	}

	entry, ok := p.entries[accountID]
	if ok && entry.inUse {
		return nil, nil, ErrSurfaceBusy
	}
	if !ok {
		surface, err := p.factory(ctx, accountID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create browser surface: %w", err)
		}
		entry = &pooledSurface{surface: surface}
		p.entries[accountID] = entry
		p.logger.Debug("created browser surface", zap.String("account_id", accountID))
	}

	entry.inUse = true
	entry.lastUsed = time.Now()

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			entry.inUse = false
			entry.lastUsed = time.Now()
		})
	}
	return entry.surface, release, nil
}

func (p *Pool) Remove(accountID string) {
	p.mu.Lock()
	entry, ok := p.entries[accountID]
	delete(p.entries, accountID)
	p.mu.Unlock()

	if ok {
		p.closeSurface(accountID, entry.surface)
	}
}

// Len returns the number of live surfaces.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close stops the cleanup goroutine and closes every surface, in use or not.
func (p *Pool) Close() {
	p.cleanupCancel()
	<-p.cleanupDone

	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*pooledSurface)
	p.mu.Unlock()

	for accountID, entry := range entries {
		p.closeSurface(accountID, entry.surface)
	}
}

func (p *Pool) runCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(p.cleanupDone)

	for {
		select {
		case <-p.cleanupCtx.Done():
			return
		case <-ticker.C:
			p.cleanupIdle(time.Now())
		}
	}
}

// cleanupIdle closes surfaces that are not checked out and have been idle too long.
func (p *Pool) cleanupIdle(now time.Time) {
	p.mu.Lock()
	idle := make(map[string]Surface)
	for accountID, entry := range p.entries {
		if !entry.inUse && now.Sub(entry.lastUsed) > p.idleTimeout {
			idle[accountID] = entry.surface
			delete(p.entries, accountID)
		}
	}
	p.mu.Unlock()

	for accountID, surface := range idle {
		p.logger.Info("closing idle browser surface", zap.String("account_id", accountID))
		p.closeSurface(accountID, surface)
	}
}

func (p *Pool) closeSurface(accountID string, surface Surface) {
	if err := surface.Close(); err != nil {
		p.logger.Warn("failed to close browser surface", zap.String("account_id", accountID), zap.Error(err))
	}
}

var _ SurfacePool = (*Pool)(nil)
