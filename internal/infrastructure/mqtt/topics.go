package mqtt

import "fmt"

// TopicPrefixStatus is the base for AimX presence topics.
//
// Record topics are not built here: they come from the binding table in
// configuration, verbatim. The only topics this package owns are the
// retained status topics each service publishes its presence on.
const TopicPrefixStatus = "aimx/status"

// Topics provides builders for AimX-owned MQTT topics.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.Status("gateway")
//	// Returns: "aimx/status/gateway"
type Topics struct{}

// Status returns the presence topic for a service role.
//
// Example: aimx/status/gateway
func (Topics) Status(role string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixStatus, role)
}

// AllStatus returns a pattern matching every service's presence topic.
//
// Pattern: aimx/status/+
func (Topics) AllStatus() string {
	return fmt.Sprintf("%s/+", TopicPrefixStatus)
}
