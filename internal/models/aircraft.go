package models

// AircraftPayload is the domain payload of an aircraft record
type AircraftPayload struct {
	Registration    string `json:"registration"`
	TypeDesignator  string `json:"typeDesignator"` // e.g. C172, DA40
	Class           string `json:"class,omitempty"` // SEL, MEL, SES...
	Complex         bool   `json:"complex,omitempty"`
	HighPerformance bool   `json:"highPerformance,omitempty"`
	Tailwheel       bool   `json:"tailwheel,omitempty"`
	Notes           string `json:"notes,omitempty"`
}
