package inbox

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailbridge/internal/config"
)

func TestDeadlineConnBoundsReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := &deadlineConn{Conn: client, timeout: 20 * time.Millisecond}

	start := time.Now()
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDeadlineConnBoundsWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Nothing reads from the other end, so the write stalls.
	conn := &deadlineConn{Conn: client, timeout: 20 * time.Millisecond}

	_, err := conn.Write([]byte("x"))
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestIMAPDialerHonorsContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := config.Config{
		IMAPHost:    "127.0.0.1",
		IMAPPort:    listener.Addr().(*net.TCPAddr).Port,
		IMAPTLS:     true,
		MailTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = IMAPDialer(cfg)(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIMAPDialerBoundsStalledGreeting(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	// Accept the connection but never send the greeting.
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	cfg := config.Config{
		IMAPHost:    "127.0.0.1",
		IMAPPort:    listener.Addr().(*net.TCPAddr).Port,
		IMAPTLS:     false,
		MailTimeout: 50 * time.Millisecond,
	}

	start := time.Now()
	_, err = IMAPDialer(cfg)(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "a silent server must not hang the dial")
}
