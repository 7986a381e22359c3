package printer

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printlink/internal/sgd"
	"printlink/internal/transport"
)

// resettingPrinter answers one getvar request, then resets the connection.
func resettingPrinter(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if _, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
			_, _ = conn.Write([]byte("\"zpl\"\r\n"))
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		conn.Close()
	}()
	return ln.Addr().String()
}

func TestReusedWriteFailureOnResetSocketKeepsConnection(t *testing.T) {
	addr := resettingPrinter(t)
	svc := New(Config{
		Transports: transport.NewFactory(transport.Options{DialTimeout: time.Second, ReadTimeout: 100 * time.Millisecond}),
		Querier:    sgd.New(time.Second),
	})
	t.Cleanup(svc.Close)
	svc.executor.sleep = func(context.Context, time.Duration) error { return nil }

	ctx := context.Background()
	require.NoError(t, svc.Connect(ctx, addr))

	chunk := make([]byte, 64*1024)
	var sendErr error
	require.Eventually(t, func() bool {
		res, err := svc.Send(ctx, addr, chunk, "")
		assert.True(t, res.Reused)
		sendErr = err
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, sendErr, ErrOperationFailed)
	assert.True(t, svc.IsConnected(addr))
	assert.Equal(t, StateConnected, svc.State())
	require.NoError(t, svc.Disconnect(ctx, addr))
	assert.False(t, svc.IsConnected(addr))
}
