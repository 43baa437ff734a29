package models

import (
	"errors"
	"strings"
)

// Offering is something taught in a period with a seat count and weekly schedule.
type Offering struct {
	ID       string   `db:"id" json:"id"`
	Period   string   `db:"period" json:"period"`
	Seats    int      `db:"seats" json:"seats"`
	Schedule Schedule `db:"-" json:"schedule"`
}

var (
	errOfferingPeriodRequired = errors.New("period must not be empty")
	errOfferingSeats          = errors.New("seats must be greater than zero")
)

// Validate checks period, seats and schedule.
func (o Offering) Validate() error {
	if strings.TrimSpace(o.Period) == "" {
		return errOfferingPeriodRequired
	}
	if o.Seats <= 0 {
		return errOfferingSeats
	}
	return o.Schedule.Validate()
}

// ClashesWith reports whether the two offerings meet at overlapping times.
func (o Offering) ClashesWith(other Offering) bool {
	return o.Schedule.ClashesWith(other.Schedule)
}
