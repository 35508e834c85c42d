package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

// testRPCError mimics a JSON-RPC error object returned by a provider.
type testRPCError struct {
	code int
	msg  string
}

func (e *testRPCError) Error() string  { return e.msg }
func (e *testRPCError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "sentinel range limit", err: fmt.Errorf("wrapped: %w", ErrRangeLimit), want: KindRangeLimit},
		{name: "geth result cap", err: errors.New("query returned more than 10000 results"), want: KindRangeLimit},
		{name: "limit exceeded code", err: &testRPCError{code: -32005, msg: "please retry"}, want: KindRangeLimit},
		{name: "block range message", err: &testRPCError{code: -32602, msg: "eth_getLogs block range is too large"}, want: KindRangeLimit},
		{name: "payload too large", err: rpc.HTTPError{StatusCode: 413, Status: "413 Payload Too Large"}, want: KindRangeLimit},
		{name: "rate limited", err: rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, want: KindTransient},
		{name: "bad gateway", err: rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, want: KindTransient},
		{name: "unauthorized", err: rpc.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, want: KindFatal},
		{name: "internal error", err: &testRPCError{code: -32603, msg: "internal error"}, want: KindTransient},
		{name: "method not found", err: &testRPCError{code: -32601, msg: "the method eth_getLogs does not exist"}, want: KindFatal},
		{name: "header not found", err: &testRPCError{code: -32000, msg: "header not found"}, want: KindTransient},
		{name: "not found", err: ethereum.NotFound, want: KindTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "canceled", err: context.Canceled, want: KindFatal},
		{name: "unreachable", err: fmt.Errorf("%w: dial tcp", ErrUnreachable), want: KindFatal},
		{name: "too many failures", err: fmt.Errorf("%w: 10 of 10", ErrTooManyFailures), want: KindFatal},
		{name: "plain network error", err: errors.New("connection reset by peer"), want: KindTransient},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestValidEndpoint(t *testing.T) {
	assert.True(t, ValidEndpoint("https://eth.llamarpc.com"))
	assert.True(t, ValidEndpoint("http://localhost:8545"))
	assert.True(t, ValidEndpoint("wss://eth.llamarpc.com"))
	assert.True(t, ValidEndpoint("/data/geth/geth.ipc"))
	assert.False(t, ValidEndpoint("eth.llamarpc.com"))
	assert.False(t, ValidEndpoint("ftp://node"))
}

func TestDial_InvalidEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), "not-a-url")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.Equal(t, KindFatal, Classify(err))
}
