package redis

import "fmt"

const ns = "eventcap:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyEventTiers(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:tiers", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelCapacityChanged() string {
	return ns + ":capacity:changed"
}
