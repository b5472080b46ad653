package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestKindString(t *testing.T) {
	want := []string{"Server", "NotFound", "Validation", "Authentication", "Connection", "Timeout", "Unsupported"}
	for i, k := range Kinds() {
		if k.String() != want[i] {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want[i])
		}
	}
	if got := Kind(42).String(); got != "Kind(42)" {
		t.Errorf("unknown kind string = %q", got)
	}
}

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("get: %w", WithCode(NotFound, 404, "object not found: a/b"))

	if !stderrors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if stderrors.Is(err, ErrServer) {
		t.Error("NotFound must not match ErrServer")
	}
	e, ok := As(err)
	if !ok {
		t.Fatal("As() failed to extract *Error")
	}
	if e.Code != 404 {
		t.Errorf("Code = %d, want 404", e.Code)
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(Validation, "key is empty"), "objstore: Validation: key is empty"},
		{WithCode(Server, 500, "boom"), "objstore: Server (500): boom"},
		{New(NotFound, "gone").WithOp("get"), "objstore get: NotFound: gone"},
		{WithCode(Authentication, 401, "nope").WithOp("put"), "objstore put: Authentication (401): nope"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKindOfForeignErrorIsServer(t *testing.T) {
	if k := KindOf(stderrors.New("raw")); k != Server {
		t.Errorf("KindOf(foreign) = %s, want Server", k)
	}
	n := Normalize(stderrors.New("raw"))
	if n.Kind != Server || n.Message != "raw" {
		t.Errorf("Normalize() = %+v", n)
	}
	if Normalize(nil) != nil {
		t.Error("Normalize(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	for _, k := range Kinds() {
		want := k == Connection || k == Timeout
		if got := IsRetryable(New(k, "x")); got != want {
			t.Errorf("IsRetryable(%s) = %v, want %v", k, got, want)
		}
	}
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) should be false")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		body string
		kind Kind
		msg  string
	}{
		{http.StatusNotFound, "", NotFound, "object not found"},
		{http.StatusBadRequest, `{"message":"bad key"}`, Validation, "bad key"},
		{http.StatusConflict, `{"error":"exists"}`, Validation, "exists"},
		{http.StatusUnauthorized, "", Authentication, "authentication failed"},
		{http.StatusForbidden, "denied", Authentication, "denied"},
		{http.StatusRequestTimeout, "", Timeout, "request timed out"},
		{http.StatusInternalServerError, `{"message":"disk full"}`, Server, "disk full"},
		{http.StatusNotImplemented, "", Server, "HTTP 501: Not Implemented"},
		{http.StatusTeapot, "short and stout", Server, "short and stout"},
		{599, "", Server, "HTTP 599"},
	}
	for _, tt := range tests {
		e := FromHTTPStatus(tt.code, []byte(tt.body))
		if e.Kind != tt.kind {
			t.Errorf("FromHTTPStatus(%d).Kind = %s, want %s", tt.code, e.Kind, tt.kind)
		}
		if e.Message != tt.msg {
			t.Errorf("FromHTTPStatus(%d).Message = %q, want %q", tt.code, e.Message, tt.msg)
		}
		if e.Code != tt.code {
			t.Errorf("FromHTTPStatus(%d).Code = %d", tt.code, e.Code)
		}
	}
}

func TestFromHTTPStatusTruncatesLongBodies(t *testing.T) {
	e := FromHTTPStatus(500, []byte(strings.Repeat("x", 2000)))
	if len(e.Message) != 512 {
		t.Errorf("message length = %d, want 512", len(e.Message))
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromTransport(t *testing.T) {
	if FromTransport(nil) != nil {
		t.Error("FromTransport(nil) should be nil")
	}
	if k := FromTransport(context.DeadlineExceeded).Kind; k != Timeout {
		t.Errorf("deadline exceeded -> %s, want Timeout", k)
	}
	var ne net.Error = timeoutErr{}
	if k := FromTransport(fmt.Errorf("read: %w", ne)).Kind; k != Timeout {
		t.Errorf("net timeout -> %s, want Timeout", k)
	}
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}
	e := FromTransport(refused)
	if e.Kind != Connection {
		t.Errorf("dial error -> %s, want Connection", e.Kind)
	}
	if !stderrors.Is(e, refused) {
		t.Error("cause should stay in the chain")
	}
	already := New(Validation, "v")
	if FromTransport(already) != already {
		t.Error("normalized errors must pass through unchanged")
	}
}

func TestIsConnectionFault(t *testing.T) {
	if !IsConnectionFault(&net.OpError{Op: "dial", Err: stderrors.New("refused")}) {
		t.Error("OpError should be a connection fault")
	}
	if !IsConnectionFault(context.Canceled) {
		t.Error("context.Canceled should be a connection fault")
	}
	if IsConnectionFault(stderrors.New("HTTP 500")) {
		t.Error("plain error should not be a connection fault")
	}
}

func TestLooksNotFound(t *testing.T) {
	for _, msg := range []string{"Object Not Found", "key does not exist", "NoSuchKey: no such key"} {
		if !LooksNotFound(msg) {
			t.Errorf("LooksNotFound(%q) = false", msg)
		}
	}
	if LooksNotFound("disk full") {
		t.Error("LooksNotFound(disk full) = true")
	}
}
