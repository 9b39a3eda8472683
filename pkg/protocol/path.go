package protocol

import "strings"

// Path prefixes understood by the broker.
const (
	PrefixWS           = "/ws/"
	PrefixWSS          = "/wss/"
	PrefixWSFunctions  = "/ws/functions/"
	PrefixWSSFunctions = "/wss/functions/"
)

// FunctionName returns the function bound to an RPC path such as
// "/ws/functions/echo". ok is false for event paths.
func FunctionName(path string) (name string, ok bool) {
	for _, prefix := range []string{PrefixWSFunctions, PrefixWSSFunctions} {
		if rest, found := strings.CutPrefix(path, prefix); found {
			name = strings.Trim(rest, "/")
			return name, name != ""
		}
	}
	return "", false
}

// RoutingKey returns the registry key for an event path: the path without
// its "/ws/" or "/wss/" prefix and without surrounding slashes.
func RoutingKey(path string) string {
	for _, prefix := range []string{PrefixWS, PrefixWSS} {
		if rest, found := strings.CutPrefix(path, prefix); found {
			return strings.Trim(rest, "/")
		}
	}
	return strings.Trim(path, "/")
}
