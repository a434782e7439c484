package email

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const dialTimeout = 30 * time.Second

// mailboxClient is the subset of IMAP operations the listener needs. The
// production implementation wraps go-imap; tests substitute a fake.
type mailboxClient interface {
	Login(username, password string) error
	Select(mailbox string) error
	SearchUnseen() ([]uint32, error)
	FetchRaw(uid uint32) ([]byte, error)
	MarkSeen(uid uint32) error
	SupportsIdle() bool
	Idle() (idler, error)
	Logout() error
	Close() error
	// Closed is closed when the underlying connection goes away.
	Closed() <-chan struct{}
}

// idler is a running IDLE command.
type idler interface {
	Close() error
	Wait() error
}

// dialFunc opens an unauthenticated connection. notify is invoked, without
// blocking, whenever the server reports a change in the message count.
type dialFunc func(cfg IMAPConfig, notify func()) (mailboxClient, error)

// dialIMAP connects with go-imap, using implicit TLS, STARTTLS or plain
// text depending on cfg.
func dialIMAP(cfg IMAPConfig, notify func()) (mailboxClient, error) {
	opts := &imapclient.Options{
		TLSConfig: cfg.TLSConfig(),
		Dialer:    &net.Dialer{Timeout: dialTimeout},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil && notify != nil {
					notify()
				}
			},
		},
	}

	addr := cfg.Addr()

	var client *imapclient.Client
	var err error
	switch {
	case cfg.TLS:
		client, err = imapclient.DialTLS(addr, opts)
	case cfg.Insecure:
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	return &imapMailbox{client: client}, nil
}

// imapMailbox adapts *imapclient.Client to mailboxClient.
type imapMailbox struct {
	client *imapclient.Client
}

func (m *imapMailbox) Login(username, password string) error {
	return m.client.Login(username, password).Wait()
}

func (m *imapMailbox) Select(mailbox string) error {
	_, err := m.client.Select(mailbox, nil).Wait()
	return err
}

func (m *imapMailbox) SearchUnseen() ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

// FetchRaw returns the full RFC 5322 message without setting \Seen.
func (m *imapMailbox) FetchRaw(uid uint32) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := m.client.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return raw, nil
}

func (m *imapMailbox) MarkSeen(uid uint32) error {
	storeCmd := m.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	return storeCmd.Close()
}

func (m *imapMailbox) SupportsIdle() bool {
	return m.client.Caps().Has(imap.CapIdle)
}

func (m *imapMailbox) Idle() (idler, error) {
	cmd, err := m.client.Idle()
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func (m *imapMailbox) Logout() error {
	return m.client.Logout().Wait()
}

func (m *imapMailbox) Close() error {
	err := m.client.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (m *imapMailbox) Closed() <-chan struct{} {
	return m.client.Closed()
}
