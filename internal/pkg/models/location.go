package models

// Location represents a geographical point with latitude and longitude
type Location struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// IsZero reports whether the location carries no coordinates
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

// Vehicle represents a vehicle selected by a driver
type Vehicle struct {
	ID       string `json:"id" db:"id"`
	Make     string `json:"make,omitempty" db:"make"`
	Model    string `json:"model,omitempty" db:"model"`
	Plate    string `json:"plate,omitempty" db:"plate"`
	Capacity int    `json:"capacity,omitempty" db:"capacity"`
}
