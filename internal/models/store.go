package models

type Store struct {
	StoreID     int64   `json:"store_id"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MaxCapacity int     `json:"max_capacity"`
	CurrNumber  int     `json:"curr_number"`
}

type StoreSummary struct {
	StoreID int64  `json:"store_id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s Store) Summary() StoreSummary {
	return StoreSummary{StoreID: s.StoreID, Name: s.Name, Address: s.Address}
}

// StoreDistance is a search hit.
type StoreDistance struct {
	Store
	DistanceKm float64 `json:"distance_km"`
}

type StoreDetail struct {
	Store
	QueueLength int64      `json:"queueLength"`
	Timeslots   []Timeslot `json:"timeslots"`
}
