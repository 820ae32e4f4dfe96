package smtp

import (
	"errors"
	"fmt"
	"net/textproto"
	"strings"
)

// Stage identifies the phase of a delivery session in which a failure
// occurred.
type Stage string

const (
	StageConnect      Stage = "connect"
	StageEncrypt      Stage = "encrypt"
	StageAuthenticate Stage = "authenticate"
	StageEnvelope     Stage = "envelope"
	StageTransmit     Stage = "transmit"
)

// ErrTLSNotOffered means the server did not advertise STARTTLS. The
// session is aborted before any credentials are written.
var ErrTLSNotOffered = errors.New("server does not offer STARTTLS")

// ErrAuthNotOffered means the server advertised no usable AUTH mechanism.
var ErrAuthNotOffered = errors.New("server offers no supported AUTH mechanism")

// DeliveryError reports a failed delivery attempt, carrying the SMTP
// reply code and text when the server produced one.
type DeliveryError struct {
	Stage  Stage
	Code   int    // SMTP reply code, 0 when the failure was not a protocol reply
	Detail string // server-provided text, if any
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("smtp %s: %d %s", e.Stage, e.Code, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("smtp %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("smtp %s failed", e.Stage)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// stageErr wraps err as a DeliveryError, lifting the reply code and text
// out of textproto protocol errors.
func stageErr(stage Stage, err error) *DeliveryError {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return &DeliveryError{Stage: stage, Code: tpErr.Code, Detail: tpErr.Msg, Err: err}
	}
	return &DeliveryError{Stage: stage, Err: err}
}

// RcptError records one envelope recipient refused by the server.
type RcptError struct {
	Addr   string
	Code   int
	Detail string
}

func (e *RcptError) Error() string {
	return fmt.Sprintf("recipient %s refused: %d %s", e.Addr, e.Code, e.Detail)
}

// EnvelopeError reports the envelope recipients the server refused.
// Delivery is all-or-nothing: any refusal fails the whole attempt, so
// partial acceptance is never silently treated as success.
type EnvelopeError struct {
	Rejected []RcptError
}

func (e *EnvelopeError) Error() string {
	addrs := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		addrs[i] = r.Addr
	}
	return fmt.Sprintf("server refused %d recipient(s): %s", len(e.Rejected), strings.Join(addrs, ", "))
}
