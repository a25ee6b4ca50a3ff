package state

import "github.com/dgnsrekt/livetiming-relay/internal/livetiming"

// Policy selects how a delta is folded into its feed subtree.
type Policy int

const (
	// PolicyMerge recurses into objects, replaces arrays wholesale and overwrites scalars.
	PolicyMerge Policy = iota
	// PolicyReplace swaps the whole subtree for the delta.
	PolicyReplace
)

func (p Policy) String() string {
	switch p {
	case PolicyMerge:
		return "merge"
	case PolicyReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// FeedSpec describes where a feed's deltas land in the snapshot.
type FeedSpec struct {
	Target     string
	Policy     Policy
	Compressed bool
}

// Registry maps wire feed names to their merge behaviour.
type Registry map[string]FeedSpec

// DefaultRegistry returns the registry for every subscribed feed plus the relay-owned ones.
func DefaultRegistry() Registry {
	r := Registry{
		livetiming.FeedCarDataZ:  {Target: livetiming.FeedCarData, Policy: PolicyReplace, Compressed: true},
		livetiming.FeedPositionZ: {Target: livetiming.FeedPosition, Policy: PolicyReplace, Compressed: true},
	}
	for _, feed := range livetiming.SubscriptionFeeds {
		if _, ok := r[feed]; ok {
			continue
		}
		r[feed] = FeedSpec{Target: feed, Policy: PolicyMerge}
	}
	r[livetiming.FeedTranslations] = FeedSpec{Target: livetiming.FeedTranslations, Policy: PolicyMerge}
	r[livetiming.FeedChatMessages] = FeedSpec{Target: livetiming.FeedChatMessages, Policy: PolicyMerge}
	return r
}

// Lookup returns the policy for feed. Unknown feeds merge into a subtree of the same name.
func (r Registry) Lookup(feed string) FeedSpec {
	if rule, ok := r[feed]; ok {
		return rule
	}
	return FeedSpec{Target: feed, Policy: PolicyMerge}
}

// syntheticFeeds are created empty on every snapshot replacement so the merge guard admits them.
var syntheticFeeds = []string{livetiming.FeedTranslations, livetiming.FeedChatMessages}
