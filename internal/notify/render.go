package notify

import (
	"fmt"

	"registration-system/models"
)

// Rendered is the text shown to a candidate for one status change.
type Rendered struct {
	Subject string   `json:"subject"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func Render(c models.StatusChange) Rendered {
	r := Rendered{
		Subject: fmt.Sprintf("Registration %s for %s", c.Status, c.EventTitle),
	}

	switch c.Status {
	case models.RegistrationApproved:
		r.Message = fmt.Sprintf(`Your registration for "%s" has been approved!`, c.EventTitle)
	case models.RegistrationRejected:
		r.Message = fmt.Sprintf(`Your registration for "%s" has been declined.`, c.EventTitle)
		if c.RejectionReason != nil && *c.RejectionReason != "" {
			r.Details = append(r.Details, "Reason: "+*c.RejectionReason)
		}
	case models.RegistrationCancelled:
		r.Message = fmt.Sprintf(`Your registration for "%s" has been cancelled.`, c.EventTitle)
	default:
		r.Message = fmt.Sprintf(`Your registration status for "%s" has been updated.`, c.EventTitle)
	}

	if c.OrganizerNotes != nil && *c.OrganizerNotes != "" {
		r.Details = append(r.Details, "Note from organizer: "+*c.OrganizerNotes)
	}
	return r
}
