// Package stability keeps a misbehaving build from taking the service down:
// panics are recovered into errors and a memory watchdog cancels builds that
// outgrow their budget.
package stability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ErrMemoryExceeded is the cancellation cause of a build stopped by the watchdog
var ErrMemoryExceeded = errors.New("memory threshold exceeded")

// PanicError is a recovered panic
type PanicError struct {
	Operation string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", e.Operation, e.Value)
}

// Config configures the guard
type Config struct {
	MemoryThresholdMB int           `json:"memory_threshold_mb"`
	CheckPeriod       time.Duration `json:"check_period"`
	MaxPanics         int           `json:"max_panics"`
	EnableGCForcing   bool          `json:"enable_gc_forcing"`
	EnableDebugLogs   bool          `json:"enable_debug_logs"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MemoryThresholdMB: 1024, // 1GB
		CheckPeriod:       5 * time.Second,
		MaxPanics:         10,
		EnableGCForcing:   true,
		EnableDebugLogs:   false,
	}
}

// PanicRecord stores information about a panic
type PanicRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stack_trace"`
	Context    string    `json:"context"`
}

// MemoryStats tracks memory usage statistics
type MemoryStats struct {
	MaxAlloc     uint64    `json:"max_alloc"`
	CurrentAlloc uint64    `json:"current_alloc"`
	CheckCount   int64     `json:"check_count"`
	GCCount      int64     `json:"gc_count"`
	LastCheck    time.Time `json:"last_check"`
	Violations   int64     `json:"violations"`
}

// Guard runs build operations with panic recovery and memory monitoring
type Guard struct {
	config  Config
	logger  *log.Logger
	mu      sync.RWMutex
	panics  []PanicRecord
	stats   MemoryStats
	started time.Time
}

// NewGuard creates a guard
func NewGuard(config Config) *Guard {
	if config.CheckPeriod <= 0 {
		config.CheckPeriod = DefaultConfig().CheckPeriod
	}
	if config.MaxPanics <= 0 {
		config.MaxPanics = DefaultConfig().MaxPanics
	}
	return &Guard{
		config:  config,
		logger:  log.New(os.Stderr, "[Stability] ", log.LstdFlags),
		started: time.Now(),
	}
}

// SetLogger replaces the component logger
func (g *Guard) SetLogger(l *log.Logger) {
	g.logger = l
}

// Run executes fn in the calling goroutine. A panic becomes a *PanicError and
// a memory violation cancels the context passed to fn with ErrMemoryExceeded
// as its cause.
func (g *Guard) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := g.watch(ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			g.recordPanic(fmt.Sprintf("Panic in %s: %v", operation, r), stack, operation)
			if g.config.EnableDebugLogs {
				g.logger.Printf("Stack trace: %s", stack)
			}
			err = &PanicError{Operation: operation, Value: r, Stack: stack}
		}
	}()

	err = fn(ctx)
	if err != nil && errors.Is(context.Cause(ctx), ErrMemoryExceeded) {
		err = fmt.Errorf("%s stopped: %w", operation, ErrMemoryExceeded)
	}
	if g.config.EnableGCForcing {
		runtime.GC()
	}
	return err
}

// watch polls memory until stop is called or ctx ends
func (g *Guard) watch(ctx context.Context, cancel context.CancelCauseFunc) func() {
	if g.config.MemoryThresholdMB <= 0 {
		return func() {}
	}
	threshold := uint64(g.config.MemoryThresholdMB) * 1024 * 1024
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(g.config.CheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !g.checkMemory(threshold) {
					cancel(ErrMemoryExceeded)
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// checkMemory reports whether allocation is within threshold, collecting
// garbage once before giving up.
func (g *Guard) checkMemory(threshold uint64) bool {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	g.mu.Lock()
	g.stats.CurrentAlloc = ms.Alloc
	g.stats.CheckCount++
	g.stats.LastCheck = time.Now()
	g.stats.MaxAlloc = max(g.stats.MaxAlloc, ms.Alloc)
	g.mu.Unlock()

	if ms.Alloc <= threshold {
		return true
	}

	g.logger.Printf("Memory threshold exceeded: %d MB > %d MB", ms.Alloc/1024/1024, threshold/1024/1024)
	runtime.GC()
	runtime.ReadMemStats(&ms)

	g.mu.Lock()
	g.stats.GCCount++
	ok := ms.Alloc <= threshold
	if !ok {
		g.stats.Violations++
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Printf("Memory still high after GC: %d MB, cancelling", ms.Alloc/1024/1024)
	}
	return ok
}

func (g *Guard) recordPanic(message, stack, operation string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.panics = append(g.panics, PanicRecord{
		Timestamp:  time.Now(),
		Message:    message,
		StackTrace: stack,
		Context:    operation,
	})
	if len(g.panics) > g.config.MaxPanics {
		g.panics = g.panics[len(g.panics)-g.config.MaxPanics:]
	}
	g.logger.Printf("PANIC RECOVERED: %s", message)
}

// Panics returns the most recent panic records
func (g *Guard) Panics() []PanicRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PanicRecord, len(g.panics))
	copy(out, g.panics)
	return out
}

// Stats returns the memory statistics
func (g *Guard) Stats() MemoryStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

// Health summarizes the guard's view of the process
type Health struct {
	Healthy    bool        `json:"healthy"`
	PanicCount int         `json:"panic_count"`
	Memory     MemoryStats `json:"memory_stats"`
	Uptime     string      `json:"uptime"`
}

// Health returns the overall stability status
func (g *Guard) Health() Health {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Health{
		Healthy:    len(g.panics) < g.config.MaxPanics && g.stats.Violations < 10,
		PanicCount: len(g.panics),
		Memory:     g.stats,
		Uptime:     time.Since(g.started).Round(time.Second).String(),
	}
}
