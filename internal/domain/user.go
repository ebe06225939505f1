package domain

import "time"

// QuietHours is a recipient's local do-not-disturb window as HH:MM strings.
// A nil bound means the window is not configured.
type QuietHours struct {
	Start *string
	End   *string
}

// Configured reports whether both bounds are present.
func (q QuietHours) Configured() bool {
	return q.Start != nil && q.End != nil
}

// User is the read-only view of a recipient owned by the account service.
type User struct {
	ID               string
	Email            string
	Phone            string
	PushToken        string
	PreferredChannel Channel
	DNDStart         *string
	DNDEnd           *string
	Timezone         string
	CreatedAt        time.Time
}

func (u *User) QuietHours() QuietHours {
	return QuietHours{Start: u.DNDStart, End: u.DNDEnd}
}

// Address returns the delivery address of the user for a channel.
func (u *User) Address(channel Channel) string {
	switch channel {
	case ChannelEmail:
		return u.Email
	case ChannelSMS:
		return u.Phone
	case ChannelPush:
		return u.PushToken
	}
	return ""
}
