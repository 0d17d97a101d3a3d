package tokenkeep

import "errors"

var (
	// ErrManagerClosed is an exported constant or variable used by the token lifecycle manager.
	ErrManagerClosed = errors.New("manager closed")
	// ErrInvalidTokenID is an exported constant or variable used by the token lifecycle manager.
	ErrInvalidTokenID = errors.New("invalid token id")
	// ErrInvalidTokenHash is an exported constant or variable used by the token lifecycle manager.
	ErrInvalidTokenHash = errors.New("invalid token hash")
	// ErrInvalidUserID is an exported constant or variable used by the token lifecycle manager.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidExpiry is an exported constant or variable used by the token lifecycle manager.
	ErrInvalidExpiry = errors.New("invalid token expiry")
)
