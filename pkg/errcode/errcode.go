// Package errcode defines the closed error taxonomy of the protocol:
// one errs.Class per domain (transport, request, user, directory,
// authentication, ot) plus the enumerated codes within each domain.
// The XML layer recovers (domain, code, message) from any error
// returned by the core in order to emit <request-failed/>.
package errcode

import (
	"errors"

	"github.com/zeebo/errs"
)

// Domain names the error's protocol domain, matching the wire values
// carried by <request-failed domain="..."/>.
type Domain string

// The closed set of error domains.
const (
	DomainTransport      Domain = "transport"
	DomainRequest        Domain = "request"
	DomainUser           Domain = "user"
	DomainDirectory      Domain = "directory"
	DomainAuthentication Domain = "authentication"
	DomainOT             Domain = "ot"
)

// Code is a domain-scoped integer error code.
type Code int

// Transport domain codes.
const (
	TransportConnectionOpenFailed Code = iota
	TransportTLSHandshakeFailed
	TransportXMLParse
	TransportFraming
)

// Request domain codes.
const (
	RequestUnknownDomain Code = iota
	RequestReplyUnprocessed
	RequestInvalidSeq
	RequestMissingAttribute
	RequestInvalidNumber
	RequestFailed
)

// User domain codes.
const (
	UserNameInUse Code = iota
	UserIDProvidedByClient
	UserNoSuchUser
	UserUnavailableOnJoin
	UserNotJoinedByThisConnection
	UserInvalidStatus
	UserFailed
)

// Directory domain codes.
const (
	DirectoryNoWelcome Code = iota
	DirectoryVersionMismatch
	DirectoryNodeExists
	DirectoryInvalidName
	DirectoryNoSuchNode
	DirectoryChatDisabled
	DirectoryNotSubdirectory
	DirectoryNotLeaf
	DirectoryRootRemoveAttempt
	DirectoryAlreadyExplored
	DirectorySubchildCountMismatch
	DirectoryUnknownType
	DirectoryAlreadySubscribed
	DirectoryNotSubscribed
	DirectoryUnsupportedNetwork
	DirectoryUnsupportedMethod
	DirectoryUnexpectedSyncIn
	DirectoryUnexpectedMessage
	DirectoryNoStorage
	DirectoryFailed
)

// Authentication domain codes.
const (
	AuthBadCredentials Code = iota
	AuthNotAuthorised
	AuthTryAgain
	AuthServerError
)

// OT domain codes.
const (
	OTVectorNotReachable Code = iota
	OTTransformationLimitExceeded
	OTUndoUnavailable
	OTOperationOutOfBounds
)

// Error is a protocol-level error carrying a domain and a code, in
// addition to the human-readable message errs.Class wraps.
type Error struct {
	class   *errs.Class
	Domain  Domain
	Code    Code
	wrapped error
}

func (e *Error) Error() string { return e.wrapped.Error() }
func (e *Error) Unwrap() error { return e.wrapped }

// classes, one per domain, so errors print with a consistent prefix
// the way storj's package-scoped errs.Class values do.
var (
	transportClass = errs.Class("transport")
	requestClass   = errs.Class("request")
	userClass      = errs.Class("user")
	directoryClass = errs.Class("directory")
	authClass      = errs.Class("authentication")
	otClass        = errs.Class("ot")
)

func classFor(d Domain) *errs.Class {
	switch d {
	case DomainTransport:
		return &transportClass
	case DomainRequest:
		return &requestClass
	case DomainUser:
		return &userClass
	case DomainDirectory:
		return &directoryClass
	case DomainAuthentication:
		return &authClass
	case DomainOT:
		return &otClass
	default:
		return &requestClass
	}
}

// New constructs a domain error with the given code and message.
func New(domain Domain, code Code, format string, args ...interface{}) *Error {
	class := classFor(domain)
	return &Error{
		class:   class,
		Domain:  domain,
		Code:    code,
		wrapped: class.New(format, args...),
	}
}

// As extracts a *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Has reports whether err belongs to domain's errs.Class.
func Has(domain Domain, err error) bool {
	return classFor(domain).Has(err)
}
