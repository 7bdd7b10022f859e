package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.io/infrasutra/mailbridge/internal/config"
)

// IMAPDialer returns the production DialFunc: it connects to the
// configured retrieval endpoint over TLS (or STARTTLS). The dial honors
// the request context and the configured mail timeout, and every read
// and write on the connection carries the same bound, so a stalled
// provider surfaces as a timeout error instead of hanging the request.
func IMAPDialer(cfg config.Config) DialFunc {
	return func(ctx context.Context) (Client, error) {
		addr := cfg.IMAPAddr()
		dialer := net.Dialer{Timeout: cfg.MailTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to imap server %s: %w", addr, err)
		}
		bounded := &deadlineConn{Conn: conn, timeout: cfg.MailTimeout}
		tlsConfig := &tls.Config{ServerName: cfg.IMAPHost}

		var client *imapclient.Client
		if cfg.IMAPTLS {
			client = imapclient.New(tls.Client(bounded, tlsConfig), nil)
		} else {
			client, err = imapclient.NewStartTLS(bounded, &imapclient.Options{TLSConfig: tlsConfig})
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("connect to imap server %s: %w", addr, err)
			}
		}
		return &imapClient{client: client}, nil
	}
}

// deadlineConn pushes the deadline forward on every read and write so no
// single network operation can outlive the configured timeout.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

type imapClient struct {
	client *imapclient.Client
}

func (c *imapClient) Login(username, password string) error {
	return c.client.Login(username, password).Wait()
}

func (c *imapClient) SelectInbox() error {
	_, err := c.client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	return err
}

func (c *imapClient) SearchAll() ([]uint32, error) {
	data, err := c.client.Search(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllSeqNums(), nil
}

func (c *imapClient) FetchRaw(seqs []uint32) ([]RawMessage, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	options := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}

	fetchCmd := c.client.Fetch(imap.SeqSetNum(seqs...), options)
	defer fetchCmd.Close()

	raws := make([]RawMessage, 0, len(seqs))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collect message: %w", err)
		}
		raws = append(raws, RawMessage{
			Seq:  buf.SeqNum,
			Body: buf.FindBodySection(section),
		})
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return raws, nil
}

func (c *imapClient) Close() error {
	if err := c.client.Logout().Wait(); err != nil {
		return c.client.Close()
	}
	return nil
}
