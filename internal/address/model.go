package address

import "time"

type Address struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	FullName   string    `json:"fullName"`
	Street     string    `json:"street"`
	City       string    `json:"city"`
	State      string    `json:"state,omitempty"`
	Country    string    `json:"country,omitempty"`
	PostalCode string    `json:"postalCode,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
