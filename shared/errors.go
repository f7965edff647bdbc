package shared

import "errors"

var (
	ErrChannelNotReady    = errors.New("channel is not ready")
	ErrAuthInProgress     = errors.New("authentication already in progress")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrStreamNotReady     = errors.New("stream id not yet known")
	ErrAuthTimeout        = errors.New("authentication watchdog timed out")
	ErrStartStreamTimeout = errors.New("start_stream acknowledgement timed out")
	ErrNoAuthScheme       = errors.New("no Zello authentication scheme configured")
	ErrMissingPrivateKey  = errors.New("ZELLO_PRIVATE_KEY could not be read")
)
