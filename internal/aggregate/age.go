package aggregate

import (
	"fmt"
	"time"
)

// Age is a patient age expressed in whole months, split for display.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Total  int `json:"total_months"`
}

// AgeAt computes the age at a reference date in whole months. Day-of-month is
// deliberately ignored, matching how practitioners state ages on reports:
// birth 2015-03-10 at 2024-01-05 is 8 years 10 months. A reference date before
// the birth date yields a negative age rather than an error.
func AgeAt(birth, at time.Time) Age {
	total := (at.Year()-birth.Year())*12 + int(at.Month()) - int(birth.Month())
	return Age{Years: total / 12, Months: total % 12, Total: total}
}

// Display renders the age the way it appears on a report, e.g. "8 ans 10 mois".
func (a Age) Display() string {
	if a.Years == 0 {
		return fmt.Sprintf("%d mois", a.Months)
	}
	if a.Months == 0 {
		return fmt.Sprintf("%d ans", a.Years)
	}
	return fmt.Sprintf("%d ans %d mois", a.Years, a.Months)
}
