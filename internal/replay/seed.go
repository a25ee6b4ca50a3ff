package replay

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

// AdjustSeed shifts SessionInfo so the session appears to have started
// fastForward ago, keeping its original length. Times are rewritten in UTC.
func AdjustSeed(root map[string]any, now time.Time, fastForward time.Duration) error {
	info, ok := root[livetiming.FeedSessionInfo].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: no SessionInfo", ErrInvalidSeed)
	}

	startRaw, _ := info["StartDate"].(string)
	endRaw, _ := info["EndDate"].(string)
	start, err := livetiming.ParseTimestamp(startRaw)
	if err != nil {
		return fmt.Errorf("%w: StartDate: %v", ErrInvalidSeed, err)
	}
	end, err := livetiming.ParseTimestamp(endRaw)
	if err != nil {
		return fmt.Errorf("%w: EndDate: %v", ErrInvalidSeed, err)
	}

	adjustedStart := now.Add(-fastForward).UTC()
	adjustedEnd := adjustedStart.Add(end.Sub(start))

	info["StartDate"] = adjustedStart.Format(livetiming.TimestampLayout)
	info["EndDate"] = adjustedEnd.Format(livetiming.TimestampLayout)
	info["GmtOffset"] = "00:00:00"
	return nil
}
