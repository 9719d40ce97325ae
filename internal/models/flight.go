package models

// FlightPayload is the domain payload of a flight record. The sync core
// treats it as opaque JSON; it is typed here for the daemon API and tests.
type FlightPayload struct {
	Date           string `json:"date"` // YYYY-MM-DD, local date of departure
	DepartureICAO  string `json:"departureIcao"`
	ArrivalICAO    string `json:"arrivalIcao"`
	OffBlock       string `json:"offBlock,omitempty"` // HH:MM
	OnBlock        string `json:"onBlock,omitempty"`  // HH:MM
	TotalMinutes   int    `json:"totalMinutes"`
	NightMinutes   int    `json:"nightMinutes,omitempty"`
	IFRMinutes     int    `json:"ifrMinutes,omitempty"`
	Landings       int    `json:"landings,omitempty"`
	NightLandings  int    `json:"nightLandings,omitempty"`
	AircraftID     string `json:"aircraftId,omitempty"`
	PilotInCommand string `json:"pilotInCommand,omitempty"`
	SecondInCommand string `json:"secondInCommand,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
}
