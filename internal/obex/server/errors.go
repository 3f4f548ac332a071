package server

import "errors"

var (
	// ErrConnectionIDExhausted is returned by the id minter once its
	// counter would wrap past the 32-bit range; the spec requires a
	// hard failure here rather than a silent wrap.
	ErrConnectionIDExhausted = errors.New("server: connection id counter exhausted")
	// ErrNoRequestInFlight is returned by Respond/RespondContent when
	// called with no pending request to answer.
	ErrNoRequestInFlight = errors.New("server: no request awaiting a response")
	// ErrResponseExceedsOnePacket is returned when the status and
	// headers supplied to Respond/RespondContent cannot be serialized
	// into a single packet. Multi-packet server responses beyond
	// continue are out of scope for this release.
	ErrResponseExceedsOnePacket = errors.New("server: response does not fit in a single packet")
)
