package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ChildID is a child identifier on the wire. The backend historically
// returned numeric ids and later string ids; both decode into a string so
// the rest of the client handles identifiers uniformly.
type ChildID string

func (id *ChildID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty child id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding child id: %w", err)
		}
		*id = ChildID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding child id: %w", err)
	}
	*id = ChildID(n.String())
	return nil
}

func (id ChildID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(id))), nil
}

// ParentPayload is the merged parent-profile + address body for
// POST /profile/parent. The backend treats it as create-or-update.
type ParentPayload struct {
	Nickname  string `json:"nickname,omitempty"`
	Role      string `json:"role,omitempty"`
	BirthYear string `json:"birth_year,omitempty"`
	Region    string `json:"region,omitempty"`
	Language  string `json:"language,omitempty"`

	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

// Parent mirrors the backend's parent-profile record.
type Parent struct {
	Nickname  string `json:"nickname"`
	Role      string `json:"role"`
	BirthYear string `json:"birth_year"`
	Region    string `json:"region"`
	Language  string `json:"language"`

	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// Child mirrors the backend's child record. ID is omitted on create; the
// client strips temporary identifiers before submission.
type Child struct {
	ID             ChildID  `json:"id,omitempty"`
	Name           string   `json:"name"`
	Gender         string   `json:"gender,omitempty"`
	Birthdate      string   `json:"birthdate,omitempty"`
	Stage          string   `json:"developmental_stage,omitempty"`
	Education      string   `json:"education_level,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	Traits         []string `json:"characteristics,omitempty"`
	Considerations []string `json:"special_considerations,omitempty"`
	Challenges     []string `json:"current_challenges,omitempty"`
}
