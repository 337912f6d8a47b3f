package redis

import "fmt"

const ns = "flightwizard:v1"

func KeySeatMap(flightNumber string) string {
	return fmt.Sprintf("%s:flight:%s:seatmap", ns, flightNumber)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemSession(idemKey string) string {
	return fmt.Sprintf("%s:idem:sessions:%s", ns, idemKey)
}

func ChannelWizardChanged() string {
	return ns + ":wizards:changed"
}
