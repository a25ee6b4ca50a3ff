package livetiming

// Feed names published by the live timing service.
const (
	FeedHeartbeat           = "Heartbeat"
	FeedCarData             = "CarData"
	FeedPosition            = "Position"
	FeedExtrapolatedClock   = "ExtrapolatedClock"
	FeedTopThree            = "TopThree"
	FeedTimingStats         = "TimingStats"
	FeedTimingAppData       = "TimingAppData"
	FeedWeatherData         = "WeatherData"
	FeedTrackStatus         = "TrackStatus"
	FeedDriverList          = "DriverList"
	FeedRaceControlMessages = "RaceControlMessages"
	FeedSessionInfo         = "SessionInfo"
	FeedSessionData         = "SessionData"
	FeedLapCount            = "LapCount"
	FeedTimingData          = "TimingData"
	FeedTyreStintSeries     = "TyreStintSeries"
	FeedTeamRadio           = "TeamRadio"
	FeedCarDataZ            = "CarData.z"
	FeedPositionZ           = "Position.z"
)

// Feeds owned by the relay itself. They never arrive from upstream.
const (
	FeedTranslations = "Translations"
	FeedChatMessages = "ChatMessages"
)

// SubscriptionFeeds is the feed list sent with every Subscribe invocation.
var SubscriptionFeeds = []string{
	FeedHeartbeat,
	FeedCarData,
	FeedPosition,
	FeedExtrapolatedClock,
	FeedTopThree,
	FeedTimingStats,
	FeedTimingAppData,
	FeedWeatherData,
	FeedTrackStatus,
	FeedDriverList,
	FeedRaceControlMessages,
	FeedSessionInfo,
	FeedSessionData,
	FeedLapCount,
	FeedTimingData,
	FeedTyreStintSeries,
	FeedTeamRadio,
	FeedCarDataZ,
	FeedPositionZ,
}

// IsSubscriptionFeed reports whether name is a feed upstream will accept in a Subscribe call.
func IsSubscriptionFeed(name string) bool {
	for _, f := range SubscriptionFeeds {
		if f == name {
			return true
		}
	}
	return false
}
