package realtime

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventThreat  EventType = "threat"
	EventSession EventType = "session"
)

// Event is one websocket frame.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	route route
}

// route carries what subscriptions filter on without decoding Data.
type route struct {
	contract   string
	risk       int
	threatType string
}

// SessionEvent is sent when protection starts or stops for a contract.
type SessionEvent struct {
	ContractAddress string `json:"contractAddress"`
	Active          bool   `json:"active"`
}

// Subscription narrows what a client receives. Clients replace it by
// sending a new one as a JSON text frame. Empty filters match everything.
type Subscription struct {
	AllEvents   bool        `json:"allEvents"`
	EventTypes  []EventType `json:"eventTypes"`
	Contracts   []string    `json:"contracts"`
	ThreatTypes []string    `json:"threatTypes"`
	MinRisk     int         `json:"minRisk"` // applies to threat events only
}

func (s Subscription) Matches(e *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, e.Type) {
		return false
	}
	if len(s.Contracts) > 0 && e.route.contract != "" &&
		!slices.ContainsFunc(s.Contracts, func(c string) bool { return strings.EqualFold(c, e.route.contract) }) {
		return false
	}
	if e.Type != EventThreat {
		return true
	}
	if e.route.risk < s.MinRisk {
		return false
	}
	return len(s.ThreatTypes) == 0 || slices.Contains(s.ThreatTypes, e.route.threatType)
}

// ParseSubscription reads the initial filter from the upgrade URL, e.g.
// /ws?contract=0xabc&threatType=Front-Running&minRisk=60. No usable parameters
// subscribes to everything.
func ParseSubscription(q url.Values) Subscription {
	sub := Subscription{
		Contracts:   q["contract"],
		ThreatTypes: q["threatType"],
	}
	if n, err := strconv.Atoi(q.Get("minRisk")); err == nil && n > 0 {
		sub.MinRisk = n
	}
	sub.AllEvents = len(sub.Contracts) == 0 && len(sub.ThreatTypes) == 0 && sub.MinRisk == 0
	return sub
}
