package application

import (
	"context"
	"errors"
	"log"
	"time"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Sweeper marks devices offline when they stop reporting.
type Sweeper struct {
	devices      devices.DeviceRepository
	offlineAfter time.Duration
	interval     time.Duration
	clock        Clock
	logger       *log.Logger
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithClock assigns a clock.
func WithClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

// NewSweeper constructs a sweeper.
func NewSweeper(deviceRepo devices.DeviceRepository, offlineAfter, interval time.Duration, logger *log.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if deviceRepo == nil {
		return nil, errors.New("health: nil device repo")
	}
	if offlineAfter <= 0 {
		offlineAfter = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	sweeper := &Sweeper{
		devices:      deviceRepo,
		offlineAfter: offlineAfter,
		interval:     interval,
		clock:        systemClock{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// SweepOnce flips stale ONLINE devices to OFFLINE and refreshes the online
// gauge.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("health: nil sweeper")
	}
	cutoff := s.clock.Now().UTC().Add(-s.offlineAfter)
	flipped, err := s.devices.MarkOfflineLastSeenBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if flipped > 0 {
		s.logger.Printf("health: marked %d devices offline (cutoff %s)", flipped, cutoff.Format(time.RFC3339))
	}
	online, err := s.devices.CountByStatus(ctx, devices.StatusOnline)
	if err != nil {
		return flipped, err
	}
	metrics.SetDevicesOnline(online)
	return flipped, nil
}

// Start runs the sweep loop until the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Printf("health: sweep: %v", err)
			}
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
