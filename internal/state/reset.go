package state

import (
	"encoding/json"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

func (s *Store) resetInactiveLocked() {
	if s.root == nil {
		return
	}

	eachLine(s.root[livetiming.FeedTimingData], func(line map[string]any) {
		line["NumberOfPitStops"] = json.Number("0")
		line["GapToLeader"] = ""
		line["IntervalToPositionAhead"] = ""
		line["TimeDiffToPositionAhead"] = ""
		line["TimeDiffToFastest"] = ""
		line["Stats"] = []any{}
		line["Retired"] = false
		line["KnockedOut"] = false
	})

	eachLine(s.root[livetiming.FeedTimingStats], func(line map[string]any) {
		pb, ok := line["PersonalBestLapTime"].(map[string]any)
		if !ok {
			return
		}
		pb["Value"] = ""
		pb["Lap"] = ""
		pb["Position"] = ""
	})

	s.root[livetiming.FeedTimingAppData] = nil
	s.root[livetiming.FeedTyreStintSeries] = nil
}

// eachLine calls fn for every object under feed.Lines, whether Lines is keyed or indexed.
func eachLine(feed any, fn func(map[string]any)) {
	obj, ok := feed.(map[string]any)
	if !ok {
		return
	}
	switch lines := obj["Lines"].(type) {
	case map[string]any:
		for _, l := range lines {
			if line, ok := l.(map[string]any); ok {
				fn(line)
			}
		}
	case []any:
		for _, l := range lines {
			if line, ok := l.(map[string]any); ok {
				fn(line)
			}
		}
	}
}
