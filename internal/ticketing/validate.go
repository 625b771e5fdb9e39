package ticketing

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"skipline/internal/models"
	"skipline/internal/store"
)

const (
	DefaultMaxCapacity      = 100
	DefaultPerPersonMinutes = 5
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type QueueConfig struct {
	Name             string
	Description      string
	Category         string
	MaxCapacity      int
	PerPersonMinutes int
}

// QueueUpdate is a partial queue change; nil fields are left untouched.
type QueueUpdate struct {
	Name             *string
	Description      *string
	Category         *string
	MaxCapacity      *int
	PerPersonMinutes *int
	Active           *bool
}

type JoinRequest struct {
	QueueID    string
	HolderName string
	Phone      string
	Email      string
	Notes      string
	UserID     string
}

func lengthBetween(value string, min, max int) bool {
	n := utf8.RuneCountInString(value)
	return n >= min && n <= max
}

func (c *QueueConfig) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	if c.Category == "" {
		c.Category = models.CategoryOther
	}
	if c.MaxCapacity == 0 {
		c.MaxCapacity = DefaultMaxCapacity
	}
	if c.PerPersonMinutes == 0 {
		c.PerPersonMinutes = DefaultPerPersonMinutes
	}
	return validateQueueFields(&c.Name, &c.Description, &c.Category, &c.MaxCapacity, &c.PerPersonMinutes)
}

func (u *QueueUpdate) validate() error {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		u.Name = &name
	}
	return validateQueueFields(u.Name, u.Description, u.Category, u.MaxCapacity, u.PerPersonMinutes)
}

func validateQueueFields(name, description, category *string, capacity, minutes *int) error {
	if name != nil && !lengthBetween(*name, 2, 100) {
		return store.Invalid("name must be between 2 and 100 characters")
	}
	if description != nil && utf8.RuneCountInString(*description) > 500 {
		return store.Invalid("description cannot exceed 500 characters")
	}
	if category != nil && !models.ValidCategory(*category) {
		return store.Invalid("invalid organization type %q", *category)
	}
	if capacity != nil && (*capacity < 1 || *capacity > 1000) {
		return store.Invalid("max capacity must be between 1 and 1000")
	}
	if minutes != nil && (*minutes < 1 || *minutes > 120) {
		return store.Invalid("estimated time per person must be between 1 and 120 minutes")
	}
	return nil
}

func (r *JoinRequest) normalize() error {
	r.HolderName = strings.TrimSpace(r.HolderName)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Notes = strings.TrimSpace(r.Notes)
	if !lengthBetween(r.HolderName, 2, 50) {
		return store.Invalid("name must be between 2 and 50 characters")
	}
	if !ValidPhone(r.Phone) {
		return store.Invalid("phone number must be 10 digits")
	}
	if r.Email != "" && !emailPattern.MatchString(r.Email) {
		return store.Invalid("invalid email address")
	}
	if utf8.RuneCountInString(r.Notes) > 200 {
		return store.Invalid("notes cannot exceed 200 characters")
	}
	return nil
}

func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
