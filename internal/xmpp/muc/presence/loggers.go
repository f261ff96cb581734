package presence

import (
	"errors"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Loggers records every event with each of its loggers, in order. A
// failing logger does not keep the later ones from recording.
type Loggers []Logger

func (l Loggers) AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	var errs []error
	for _, logger := range l {
		if err := logger.AddJoinEvent(room, at, occupant, nick); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l Loggers) AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	var errs []error
	for _, logger := range l {
		if err := logger.AddLeaveEvent(room, at, occupant, nick); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
