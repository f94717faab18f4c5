package models

import (
	"fmt"
	"time"
)

type Slot struct {
	SlotID           int64  `json:"slot_id"`
	StoreID          int64  `json:"store_id"`
	Weekday          int    `json:"weekday"`
	StartTime        string `json:"start_time"`
	MaxPeopleAllowed int    `json:"max_people_allowed"`
	IsActive         bool   `json:"is_active"`
}

// Minutes returns StartTime ("HH:MM") as minutes past midnight.
func (s Slot) Minutes() (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s.StartTime, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("slot %d start time %q: %w", s.SlotID, s.StartTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("slot %d start time %q out of range", s.SlotID, s.StartTime)
	}
	return hour*60 + minute, nil
}

// SlotLoad is a slot together with the number of valid tickets booked for
// one concrete occurrence of it.
type SlotLoad struct {
	Slot
	Booked int
}

type Timeslot struct {
	Slot
	Date        time.Time `json:"date"`
	Booked      int       `json:"booked"`
	Crowdedness int       `json:"crowdedness"`
}
