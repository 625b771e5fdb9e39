package models

import "time"

type Queue struct {
	QueueID                string    `json:"queue_id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description,omitempty"`
	Category               string    `json:"category"`
	Active                 bool      `json:"active"`
	MaxCapacity            int       `json:"max_capacity"`
	PerPersonMinutes       int       `json:"per_person_minutes"`
	OwnerID                string    `json:"owner_id"`
	CurrentServingPosition int       `json:"current_serving_position"`
	LastPosition           int       `json:"last_position"`
	TotalServed            int       `json:"total_served"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

const (
	CategoryClinic     = "clinic"
	CategoryShop       = "shop"
	CategoryCollege    = "college"
	CategoryRestaurant = "restaurant"
	CategoryBank       = "bank"
	CategoryGovernment = "government"
	CategoryOther      = "other"
)

var categories = map[string]struct{}{
	CategoryClinic:     {},
	CategoryShop:       {},
	CategoryCollege:    {},
	CategoryRestaurant: {},
	CategoryBank:       {},
	CategoryGovernment: {},
	CategoryOther:      {},
}

func ValidCategory(value string) bool {
	_, ok := categories[value]
	return ok
}
