package natprobe

import "net"

type shortResponseError struct{ got int }

func (e *shortResponseError) Error() string {
	return "natprobe: STUN response too short"
}

type badMessageTypeError struct{ got uint16 }

func (e *badMessageTypeError) Error() string {
	return "natprobe: unexpected STUN message type"
}

type badMagicCookieError struct{ got uint32 }

func (e *badMagicCookieError) Error() string {
	return "natprobe: invalid STUN magic cookie"
}

var errTransactionMismatch = transactionMismatchError{}

type transactionMismatchError struct{}

func (transactionMismatchError) Error() string {
	return "natprobe: STUN transaction ID mismatch"
}

type attrLengthError struct {
	declared int
	have     int
}

func (e *attrLengthError) Error() string {
	return "natprobe: STUN attribute length exceeds response"
}

var errAttrTooShort = attrTooShortError{}

type attrTooShortError struct{}

func (attrTooShortError) Error() string { return "natprobe: STUN attribute too short" }

var errNoMappedAddress = noMappedAddressError{}

type noMappedAddressError struct{}

func (noMappedAddressError) Error() string {
	return "natprobe: STUN response carried no mapped address"
}

type unknownFamilyError struct{ family byte }

func (e *unknownFamilyError) Error() string {
	return "natprobe: unknown STUN address family"
}

type resolveServerError struct {
	server string
	err    error
}

func (e *resolveServerError) Error() string { return "natprobe: resolve " + e.server + ": " + e.err.Error() }
func (e *resolveServerError) Unwrap() error { return e.err }

type sendRequestError struct {
	server string
	err    error
}

func (e *sendRequestError) Error() string { return "natprobe: send to " + e.server + ": " + e.err.Error() }
func (e *sendRequestError) Unwrap() error { return e.err }

type readResponseError struct {
	server string
	err    error
}

func (e *readResponseError) Error() string {
	return "natprobe: read from " + e.server + ": " + e.err.Error()
}
func (e *readResponseError) Unwrap() error { return e.err }

type unexpectedSenderError struct {
	server string
	sender *net.UDPAddr
}

func (e *unexpectedSenderError) Error() string {
	return "natprobe: response for " + e.server + " arrived from an unexpected sender"
}

type bindError struct{ err error }

func (e *bindError) Error() string { return "natprobe: bind UDP: " + e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

type bothServersFailedError struct {
	err1, err2 error
}

func (e *bothServersFailedError) Error() string {
	return "natprobe: both STUN servers failed: " + e.err1.Error() + "; " + e.err2.Error()
}
func (e *bothServersFailedError) Unwrap() []error { return []error{e.err1, e.err2} }
