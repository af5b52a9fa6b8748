package snapshot

import (
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/calendar"
)

// ResolveSlot returns the latest slot anchored at or before now+grace.
// Runs started a little before an anchor (within grace) count for that anchor.
func ResolveSlot(session calendar.Session, now time.Time, grace time.Duration) (int, error) {
	slots := session.Slots()
	if len(slots) == 0 {
		return 0, fmt.Errorf("session %s has no slots", calendar.Format(session.Date))
	}

	at := now.Add(grace)
	if at.Before(slots[0].ET) {
		return 0, fmt.Errorf("%s is before session open %s", now.In(calendar.ET()).Format("15:04"), slots[0].Label)
	}

	idx := 0
	for _, s := range slots {
		if s.ET.After(at) {
			break
		}
		idx = s.Index
	}
	return idx, nil
}
