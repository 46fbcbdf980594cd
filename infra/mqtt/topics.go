package mqtt

import (
	"strings"

	"github.com/kilianp07/shiprelay/core/model"
)

const (
	// DefaultTopicPrefix roots the relay topics when none is configured.
	DefaultTopicPrefix = "relay"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UpTopic is where the actor behind conn publishes to the relay.
func UpTopic(prefix string, conn model.ConnID) string {
	return prefix + "/conn/" + string(conn) + "/up"
}

// DownTopic is where the relay publishes to the actor behind conn.
func DownTopic(prefix string, conn model.ConnID) string {
	return prefix + "/conn/" + string(conn) + "/down"
}

// UpFilter matches the upstream topics of every connection.
func UpFilter(prefix string) string {
	return prefix + "/conn/+/up"
}

// StatusTopic carries the retained relay availability.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// ConnFromTopic extracts the connection id of an upstream topic.
func ConnFromTopic(prefix, topic string) (model.ConnID, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/conn/")
	if !ok {
		return "", false
	}
	conn, ok := strings.CutSuffix(rest, "/up")
	if !ok || conn == "" || strings.Contains(conn, "/") {
		return "", false
	}
	return model.ConnID(conn), true
}
