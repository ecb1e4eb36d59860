package matching

import (
	"context"
	"log/slog"
	"sort"

	"handyhub/internal/geo"
	"handyhub/internal/models"
)

// Store is the slice of the persistence gateway matching needs. Both queries
// apply only the rectangular pre-filter; the exact distance cut happens here.
type Store interface {
	QueryJobsInBoundingBox(ctx context.Context, box geo.BoundingBox) ([]models.Job, error)
	QueryWorkersInBoundingBox(ctx context.Context, box geo.BoundingBox, category string) ([]models.Worker, error)
}

// Service runs the two-pass nearby search: cheap index-friendly bounding box,
// then exact haversine filter and ascending distance sort.
type Service struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// NearbyJobs returns open jobs within radiusKm of the worker's position,
// nearest first, paginated. An empty overall result maps to NoJobsAvailable.
func (s *Service) NearbyJobs(ctx context.Context, lat, lng, radiusKm float64, page, limit int) ([]models.Job, error) {
	candidates, err := s.store.QueryJobsInBoundingBox(ctx, geo.BoxAround(lat, lng, radiusKm))
	if err != nil {
		s.log.Error("query jobs in box", "err", err)
		return nil, models.Internal(err)
	}

	jobs := make([]models.Job, 0, len(candidates))
	for _, j := range candidates {
		d := geo.DistanceKm(lat, lng, j.Latitude, j.Longitude)
		if d > radiusKm {
			continue
		}
		rounded := geo.RoundKm(d)
		j.DistanceKm = &rounded
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		return nil, models.NoJobsAvailable()
	}

	sort.Slice(jobs, func(i, k int) bool { return *jobs[i].DistanceKm < *jobs[k].DistanceKm })
	return paginate(jobs, page, limit), nil
}

// NearbyWorkers returns online workers with the requested skill within
// radiusKm, nearest first. An empty post-filter set is the NoWorkersAvailable
// domain signal, not a query failure.
func (s *Service) NearbyWorkers(ctx context.Context, lat, lng float64, category string, radiusKm float64) ([]models.Worker, error) {
	candidates, err := s.store.QueryWorkersInBoundingBox(ctx, geo.BoxAround(lat, lng, radiusKm), category)
	if err != nil {
		s.log.Error("query workers in box", "err", err)
		return nil, models.Internal(err)
	}

	workers := make([]models.Worker, 0, len(candidates))
	for _, w := range candidates {
		d := geo.DistanceKm(lat, lng, w.Latitude, w.Longitude)
		if d > radiusKm {
			continue
		}
		rounded := geo.RoundKm(d)
		w.DistanceKm = &rounded
		workers = append(workers, w)
	}
	if len(workers) == 0 {
		return nil, models.NoWorkersAvailable()
	}

	sort.Slice(workers, func(i, k int) bool { return *workers[i].DistanceKm < *workers[k].DistanceKm })
	return workers, nil
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
