package domain

// ConfirmationType decides what a captured payment does to a booking.
type ConfirmationType string

const (
	ConfirmInstant      ConfirmationType = "instant"
	ConfirmHostApproval ConfirmationType = "host_approval"
)

// Space is the part of a space record the booking lifecycle needs.
type Space struct {
	ID               string           `json:"id"`
	HostID           string           `json:"host_id"`
	ConfirmationType ConfirmationType `json:"confirmation_type"`
}

// InstantConfirmation reports whether paid bookings confirm without the host.
// An unset type counts as instant.
func (s *Space) InstantConfirmation() bool {
	return s.ConfirmationType == "" || s.ConfirmationType == ConfirmInstant
}

func (s *Space) IsHost(userID string) bool {
	return s.HostID != "" && s.HostID == userID
}
