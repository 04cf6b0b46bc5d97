package geo

import (
	"context"
	"log"
	"time"
)

// Leg is one routed origin->destination hop as reported by a provider.
type Leg struct {
	Duration time.Duration
	Distance Meters
}

// Router asks an external routing provider for a driving leg.
type Router interface {
	Route(ctx context.Context, origin, destination Coordinate) (Leg, error)
}

// TravelEstimate is the result of EstimateTravel. When Available is false
// Duration and Distance carry no information and must not be read as zero.
type TravelEstimate struct {
	Duration  time.Duration `json:"duration"`
	Distance  Meters        `json:"distance"`
	Available bool          `json:"available"`
}

type Service struct {
	router Router
}

func NewService(router Router) *Service {
	return &Service{router: router}
}

// EstimateTravel never fails: provider errors collapse into an unavailable
// estimate.
func (s *Service) EstimateTravel(ctx context.Context, origin, destination Coordinate) TravelEstimate {
	if s == nil || s.router == nil {
		return TravelEstimate{}
	}
	if origin.Validate() != nil || destination.Validate() != nil {
		return TravelEstimate{}
	}

	leg, err := s.router.Route(ctx, origin, destination)
	if err != nil {
		log.Printf("[WARN] routing %s -> %s unavailable: %v", origin, destination, err)
		return TravelEstimate{}
	}
	return TravelEstimate{Duration: leg.Duration, Distance: leg.Distance, Available: true}
}
