package matching

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/geo"
	"handyhub/internal/models"
)

type fakeStore struct {
	jobs    []models.Job
	workers []models.Worker
}

func (f *fakeStore) QueryJobsInBoundingBox(_ context.Context, box geo.BoundingBox) ([]models.Job, error) {
	var out []models.Job
	for _, j := range f.jobs {
		if j.Latitude >= box.MinLat && j.Latitude <= box.MaxLat &&
			j.Longitude >= box.MinLng && j.Longitude <= box.MaxLng {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) QueryWorkersInBoundingBox(_ context.Context, box geo.BoundingBox, _ string) ([]models.Worker, error) {
	var out []models.Worker
	for _, w := range f.workers {
		if w.Latitude >= box.MinLat && w.Latitude <= box.MaxLat &&
			w.Longitude >= box.MinLng && w.Longitude <= box.MaxLng {
			out = append(out, w)
		}
	}
	return out, nil
}

func TestNearbyWorkersAtSameLocation(t *testing.T) {
	st := &fakeStore{workers: []models.Worker{
		{ID: "w-1", Latitude: 14.5995, Longitude: 120.9842, Availability: models.AvailabilityOnline},
	}}
	svc := New(st, slog.Default())

	workers, err := svc.NearbyWorkers(context.Background(), 14.5995, 120.9842, "plumbing", 10)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.NotNil(t, workers[0].DistanceKm)
	assert.Equal(t, 0.0, *workers[0].DistanceKm)
}

func TestNearbyWorkersFarAway(t *testing.T) {
	// ~590 km away: inside no reasonable box for radius 5, but even if the box
	// admitted it the exact filter must cut it.
	st := &fakeStore{workers: []models.Worker{
		{ID: "w-1", Latitude: 10.0, Longitude: 118.0, Availability: models.AvailabilityOnline},
	}}
	svc := New(st, slog.Default())

	_, err := svc.NearbyWorkers(context.Background(), 14.5995, 120.9842, "plumbing", 5)
	de, ok := models.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeNoWorkersAvailable, de.Code)
}

func TestNearbyWorkersExactFilterTrimsBoxCorners(t *testing.T) {
	center := [2]float64{14.5995, 120.9842}
	radius := 10.0
	delta := radius / 111
	// Box corner: passes the rectangular pre-filter but its true distance
	// (~12.7 km) exceeds the radius.
	st := &fakeStore{workers: []models.Worker{
		{ID: "corner", Latitude: center[0] + delta*0.99, Longitude: center[1] + delta*0.99, Availability: models.AvailabilityOnline},
		{ID: "near", Latitude: center[0] + delta/2, Longitude: center[1], Availability: models.AvailabilityOnline},
	}}
	svc := New(st, slog.Default())

	workers, err := svc.NearbyWorkers(context.Background(), center[0], center[1], "plumbing", radius)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "near", workers[0].ID)
}

func TestNearbyJobsSortedAndPaginated(t *testing.T) {
	st := &fakeStore{jobs: []models.Job{
		{ID: "far", Latitude: 14.64, Longitude: 120.9842, Status: models.StatusPending},
		{ID: "close", Latitude: 14.60, Longitude: 120.9842, Status: models.StatusPending},
		{ID: "mid", Latitude: 14.62, Longitude: 120.9842, Status: models.StatusPending},
	}}
	svc := New(st, slog.Default())
	ctx := context.Background()

	jobs, err := svc.NearbyJobs(ctx, 14.5995, 120.9842, 10, 1, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "close", jobs[0].ID)
	assert.Equal(t, "mid", jobs[1].ID)
	assert.LessOrEqual(t, *jobs[0].DistanceKm, *jobs[1].DistanceKm)

	jobs, err = svc.NearbyJobs(ctx, 14.5995, 120.9842, 10, 2, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "far", jobs[0].ID)
}

func TestNearbyJobsEmptyArea(t *testing.T) {
	svc := New(&fakeStore{}, slog.Default())
	_, err := svc.NearbyJobs(context.Background(), 14.5995, 120.9842, 10, 1, 20)
	de, ok := models.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeNoJobsAvailable, de.Code)
}
