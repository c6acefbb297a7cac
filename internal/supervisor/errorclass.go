// internal/supervisor/errorclass.go
package supervisor

import "ppp-gateway/internal/ppp"

// ErrorClass is the classified protocol failure for one poll tick
type ErrorClass int

const (
	ErrorNone ErrorClass = iota
	ErrorLinkTimeoutOrPeerTerminated
	ErrorAuthenticationFailure
	ErrorNetworkConfigTimeout
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorLinkTimeoutOrPeerTerminated:
		return "link_timeout"
	case ErrorAuthenticationFailure:
		return "auth_failure"
	case ErrorNetworkConfigTimeout:
		return "network_config_timeout"
	default:
		return "unknown"
	}
}

// Classify maps engine status to an error class. Link failures take
// precedence over authentication, which takes precedence over IPCP.
func Classify(s ppp.Status) ErrorClass {
	switch {
	case s.LinkFailed():
		return ErrorLinkTimeoutOrPeerTerminated
	case s.AuthFailed():
		return ErrorAuthenticationFailure
	case s.NetworkConfigFailed():
		return ErrorNetworkConfigTimeout
	default:
		return ErrorNone
	}
}
