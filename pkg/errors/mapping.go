package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// FromHTTPStatus maps an HTTP status code and response body to an *Error.
// Every status maps to exactly one kind; anything unrecognized is Server
// carrying the raw message.
func FromHTTPStatus(code int, body []byte) *Error {
	msg := messageFromBody(body)
	var kind Kind
	switch code {
	case http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity, http.StatusRequestedRangeNotSatisfiable:
		kind = Validation
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = Authentication
	case http.StatusNotFound:
		kind = NotFound
	case http.StatusRequestTimeout:
		kind = Timeout
	default:
		kind = Server
	}
	if msg == "" {
		msg = defaultHTTPMessage(kind, code)
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}

func defaultHTTPMessage(kind Kind, code int) string {
	switch kind {
	case NotFound:
		return "object not found"
	case Authentication:
		return "authentication failed"
	case Validation:
		return "validation error"
	case Timeout:
		return "request timed out"
	}
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("HTTP %d: %s", code, text)
	}
	return fmt.Sprintf("HTTP %d", code)
}

// messageFromBody extracts "message" or "error" from a JSON error envelope,
// falling back to the trimmed raw body.
func messageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return raw
}

// LooksNotFound reports whether a server message describes a missing entity.
// Some servers answer a delete of an absent key with 500 and such a message.
func LooksNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not found") || strings.Contains(m, "does not exist") ||
		strings.Contains(m, "no such key")
}

// FromTransport maps a connection-level failure (dial, TLS, reset,
// deadline) to Timeout or Connection. Already-normalized errors pass
// through unchanged.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if isTimeout(err) {
		return Wrap(Timeout, err, "request timed out: "+err.Error())
	}
	return Wrap(Connection, err, "connection failed: "+err.Error())
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// IsConnectionFault reports whether err is a low-level network failure as
// opposed to a protocol-level answer. Exposed for adapters that need to
// tell a dead peer from a rejected request.
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	var (
		opErr   *net.OpError
		dnsErr  *net.DNSError
		certErr *tls.CertificateVerificationError
		unkAuth x509.UnknownAuthorityError
	)
	switch {
	case stderrors.As(err, &opErr), stderrors.As(err, &dnsErr),
		stderrors.As(err, &certErr), stderrors.As(err, &unkAuth):
		return true
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, syscall.ECONNREFUSED), stderrors.Is(err, syscall.ECONNRESET),
		stderrors.Is(err, net.ErrClosed), stderrors.Is(err, context.Canceled):
		return true
	}
	return false
}
