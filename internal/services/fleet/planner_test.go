package fleet

import (
	"sync"
	"testing"
	"time"

	fleetmocks "github.com/BearBump/ShipBox/internal/services/fleet/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := DefaultPlanner()
	s.Equal(5*time.Minute, p.BackoffDelay(0))
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestBackoffDelay_Overrides() {
	p := NewPlanner(PlannerConfig{Backoff1: time.Minute, Backoff4: 2 * time.Hour}, nil)
	s.Equal(time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(2*time.Hour, p.BackoffDelay(9))
}

func (s *PlannerSuite) TestBackoffDelay_Jitter_UsesRand() {
	m := &fleetmocks.Rand{}
	m.On("Intn", 31).Return(30).Once()

	p := NewPlanner(PlannerConfig{Jitter: 30 * time.Second}, m)
	s.Equal(5*time.Minute+30*time.Second, p.BackoffDelay(1))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestBackoffDelay_NoJitter_NoRand() {
	m := &fleetmocks.Rand{}
	p := NewPlanner(DefaultPlannerConfig(), m)
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	m.AssertNotCalled(s.T(), "Intn", mock.Anything)
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}

func TestBackoffDelay_ConcurrentJitter(t *testing.T) {
	p := NewPlanner(PlannerConfig{Jitter: 30 * time.Second}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := p.BackoffDelay(1)
				if d < 5*time.Minute || d > 5*time.Minute+30*time.Second {
					t.Errorf("delay out of range: %s", d)
					return
				}
			}
		}()
	}
	wg.Wait()
}
