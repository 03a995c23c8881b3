// Package draft holds the client-local, uncommitted family records staged
// during profile setup: one parent profile, one address, and an ordered set
// of children. Nothing here touches the backend except the delete path for
// already-persisted children.
package draft

import (
	"strings"
	"time"
)

// TempIDPrefix marks a child that has not yet been assigned a backend id.
const TempIDPrefix = "temp_"

// IsTempID reports whether id is a locally generated temporary identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ParentProfile is the staged parent record. Fields are flat strings; the
// backend owns enum validation.
type ParentProfile struct {
	Nickname  string `json:"nickname"`
	Role      string `json:"role"`       // mother, father, guardian, other caregiver
	BirthYear string `json:"birth_year"`
	Region    string `json:"region"`
	Language  string `json:"language"`
}

// Address is staged independently and only merged into the parent payload
// at commit time.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Child is one staged child record. ID is either temp_-prefixed (requires a
// create call at commit) or a backend-issued identifier held as a string
// (already synced individually). IdempotencyKey is assigned once when the
// draft is created and reused on every commit attempt so a retried commit
// cannot double-create the child.
type Child struct {
	ID             string   `json:"id"`
	IdempotencyKey string   `json:"idempotency_key"`
	Name           string   `json:"name"`
	Gender         string   `json:"gender"`
	Birthdate      string   `json:"birthdate"` // YYYY-MM-DD
	Stage          string   `json:"developmental_stage"`
	Education      string   `json:"education_level"`
	Interests      []string `json:"interests"`
	Traits         []string `json:"characteristics"`
	Considerations []string `json:"special_considerations"`
	Challenges     []string `json:"current_challenges"`
}

// TagField names one of the tag-set attributes on a Child.
type TagField string

const (
	FieldInterests      TagField = "interests"
	FieldTraits         TagField = "characteristics"
	FieldConsiderations TagField = "special_considerations"
	FieldChallenges     TagField = "current_challenges"
)

// Age derives the child's age in whole years at the given time, adjusted
// for whether the birthday has occurred yet this year. The second return is
// false when the birthdate is absent or unparsable; age is never stored
// authoritatively.
func (c Child) Age(now time.Time) (int, bool) {
	if c.Birthdate == "" {
		return 0, false
	}
	born, err := time.Parse("2006-01-02", c.Birthdate)
	if err != nil {
		return 0, false
	}
	years := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		years--
	}
	if years < 0 {
		return 0, false
	}
	return years, true
}
