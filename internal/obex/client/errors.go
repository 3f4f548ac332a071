package client

import "errors"

// Usage errors: rejected at the call site, state remains valid for
// recovery via Clear or Reset.
var (
	ErrAlreadyConnected        = errors.New("client: already connected")
	ErrNotConnected            = errors.New("client: not connected")
	ErrBusy                    = errors.New("client: request already in flight")
	ErrUnsupported             = errors.New("client: session is unsupported")
	ErrHeadersExceedOnePacket  = errors.New("client: headers exceed a single packet for an op that cannot span")
	ErrNoRequestInFlight       = errors.New("client: no request in flight")
	ErrTargetAndConnectionID   = errors.New("client: Target and ConnectionId headers must not appear in the same request")
	ErrPutStreamHeadersAfterFirst = errors.New("client: put_stream may not carry headers after the first call")
)
