package models

// PersonnelPayload is the domain payload of a crew member record
type PersonnelPayload struct {
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"` // PIC, SIC, instructor, examiner
	LicenceNo string `json:"licenceNo,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}
