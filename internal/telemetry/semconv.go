package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by pulse instruments.
const (
	AttrEnvironment     = attribute.Key("environment")
	AttrFeed            = attribute.Key("feed")
	AttrMessageType     = attribute.Key("message.type")
	AttrResult          = attribute.Key("result")
	AttrReason          = attribute.Key("reason")
	AttrConnectionState = attribute.Key("connection.state")
	AttrResolution      = attribute.Key("chart.resolution")
	AttrEndpoint        = attribute.Key("endpoint")
)

// Result values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultStale   = "stale"
)

// ResultAttributes returns the environment and result pair.
func ResultAttributes(result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
	}
}

// FeedAttributes returns attributes for paginated feed metrics.
func FeedAttributes(feed, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrFeed.String(feed),
		AttrResult.String(result),
	}
}
