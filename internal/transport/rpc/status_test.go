package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code codes.Code
		want objerr.Kind
	}{
		{codes.NotFound, objerr.NotFound},
		{codes.InvalidArgument, objerr.Validation},
		{codes.AlreadyExists, objerr.Validation},
		{codes.Unauthenticated, objerr.Authentication},
		{codes.PermissionDenied, objerr.Authentication},
		{codes.DeadlineExceeded, objerr.Timeout},
		{codes.Unavailable, objerr.Connection},
		{codes.Unimplemented, objerr.Unsupported},
		{codes.Internal, objerr.Server},
		{codes.Unknown, objerr.Server},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := FromStatus(status.Error(tt.code, "boom"))
			e, ok := objerr.As(err)
			if assert.True(t, ok) {
				assert.Equal(t, tt.want, e.Kind)
				assert.Equal(t, "boom", e.Message)
				assert.Equal(t, int(tt.code), e.Code)
			}
		})
	}
}

func TestFromStatusNonStatusErrors(t *testing.T) {
	assert.NoError(t, FromStatus(nil))
	assert.Equal(t, objerr.Timeout, objerr.KindOf(FromStatus(fmt.Errorf("wrapped: %w", context.DeadlineExceeded))))
	assert.Equal(t, objerr.Connection, objerr.KindOf(FromStatus(errors.New("connection reset by peer"))))

	orig := objerr.New(objerr.Validation, "already mapped")
	assert.Same(t, orig, FromStatus(orig))
}

func TestToStatusRoundTrip(t *testing.T) {
	for _, kind := range objerr.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			back := FromStatus(ToStatus(objerr.New(kind, "msg")))
			assert.Equal(t, kind, objerr.KindOf(back))
		})
	}
	assert.Equal(t, codes.Internal, status.Code(ToStatus(errors.New("plain"))))

	pre := status.Error(codes.ResourceExhausted, "slow down")
	assert.Equal(t, pre, ToStatus(pre))
}

func TestJSONCodec(t *testing.T) {
	var c jsonCodec
	b, err := c.Marshal(&KeyRequest{Key: "a/b"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"key":"a/b"}`, string(b))

	var out KeyRequest
	assert.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, "a/b", out.Key)
	assert.NoError(t, c.Unmarshal(nil, &out))
	assert.Error(t, c.Unmarshal([]byte("{"), &out))
	assert.Equal(t, CodecName, c.Name())
}
