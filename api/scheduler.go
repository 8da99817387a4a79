/*
scheduler.go - Periodic overdue scan

PURPOSE:
  Periodically evaluates every ACTIVE advance for overdue status, logs the
  ones found and publishes the count as the overdue gauge. The scan only
  reads the ledger; it never changes an advance's status.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Scans once immediately on start
  - Stop waits for an in-flight scan to finish

CONFIGURATION:
  - CheckInterval: How often to scan (default: 1 hour, must be positive)
  - Enabled: Whether the scanner is active (default: true)

USAGE:
  scanner := NewOverdueScanner(advances, m, log)
  scanner.Start()
  // ... later
  scanner.Stop()

SEE ALSO:
  - handlers.go: ListOverdue endpoint (on-demand report)
  - advance/overdue.go: Overdue rule
*/
package api

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/metrics"
)

// OverdueScanner periodically reports overdue advances.
type OverdueScanner struct {
	Ledger        *advance.Ledger
	Metrics       *metrics.Metrics
	Log           *zap.Logger
	Clock         generic.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScanner creates a scanner with a one hour interval.
func NewOverdueScanner(ledger *advance.Ledger, m *metrics.Metrics, log *zap.Logger) *OverdueScanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &OverdueScanner{
		Ledger:        ledger,
		Metrics:       m,
		Log:           log.Named("overdue"),
		Clock:         generic.SystemClock,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scanner. A non-positive CheckInterval leaves it stopped.
func (s *OverdueScanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("overdue scanner disabled")
		return
	}
	if s.ticker != nil {
		return
	}
	if s.CheckInterval <= 0 {
		s.Log.Warn("overdue scanner not started, interval must be positive",
			zap.Duration("interval", s.CheckInterval))
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("overdue scanner started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scanner. It is safe to call more than once.
func (s *OverdueScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("overdue scanner stopped")
}

func (s *OverdueScanner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.Scan()
	for {
		select {
		case <-ticker.C:
			s.Scan()
		case <-stop:
			return
		}
	}
}

// Scan evaluates every ACTIVE advance once and returns the overdue ones.
func (s *OverdueScanner) Scan() []advance.Overdue {
	now := s.Clock()
	overdue := s.Ledger.AllOverdue(now)
	s.Metrics.SetOverdue(len(overdue))

	for _, o := range overdue {
		s.Log.Warn("advance overdue",
			zap.String("advance_id", string(o.Advance.ID)),
			zap.String("employee_id", string(o.Advance.EmployeeID)),
			zap.Stringer("outstanding", o.Outstanding),
			zap.String("due_date", generic.FormatDate(o.DueDate)),
			zap.Int("days_overdue", o.DaysOverdue))
	}
	s.Log.Info("overdue scan complete",
		zap.String("as_of", generic.FormatDate(now)),
		zap.Int("overdue", len(overdue)))
	return overdue
}
