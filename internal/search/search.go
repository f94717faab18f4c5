package search

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"clup/store-service/internal/models"
	"clup/store-service/internal/store"
)

const earthRadiusKm = 6371.0

type Store interface {
	ListStores(ctx context.Context) ([]models.Store, error)
}

type Service struct {
	store    Store
	radiusKm float64
}

func NewService(st Store, radiusKm float64) *Service {
	if radiusKm <= 0 {
		radiusKm = 10
	}
	return &Service{store: st, radiusKm: radiusKm}
}

// Nearby returns the stores within the configured radius of coordinates
// ("lat|long"), nearest first.
func (s *Service) Nearby(ctx context.Context, coordinates string) ([]models.StoreDistance, error) {
	lat, lon, err := ParseCoordinates(coordinates)
	if err != nil {
		return nil, err
	}
	stores, err := s.store.ListStores(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]models.StoreDistance, 0, len(stores))
	for _, st := range stores {
		distance := Haversine(lat, lon, st.Latitude, st.Longitude)
		if distance > s.radiusKm {
			continue
		}
		hits = append(hits, models.StoreDistance{Store: st, DistanceKm: math.Round(distance*1000) / 1000})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	return hits, nil
}

func ParseCoordinates(raw string) (float64, float64, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 2 {
		return 0, 0, store.ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return 0, 0, store.ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return 0, 0, store.ErrInvalidCoordinates
	}
	return lat, lon, nil
}

// Haversine is the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
