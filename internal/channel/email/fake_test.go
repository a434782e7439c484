package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawMessage(subject, body string) []byte {
	return []byte("From: Human <human@example.com>\r\n" +
		"To: agent@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body)
}

type fakeMessage struct {
	raw  []byte
	seen bool
}

// fakeMailbox is an in-memory mailboxClient.
type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[uint32]*fakeMessage
	order     []uint32
	nextUID   uint32
	fetchErrs map[uint32]error
	loginErr  error
	searchErr error
	idle      bool
	searches  int
	idles     int
	logouts   int

	// idleHook runs on every IDLE start with the running count.
	idleHook func(n int)

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:  make(map[uint32]*fakeMessage),
		fetchErrs: make(map[uint32]error),
		nextUID:   1,
		closed:    make(chan struct{}),
	}
}

func (m *fakeMailbox) add(raw []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid := m.nextUID
	m.nextUID++
	m.messages[uid] = &fakeMessage{raw: raw}
	m.order = append(m.order, uid)
	return uid
}

func (m *fakeMailbox) isSeen(uid uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[uid].seen
}

func (m *fakeMailbox) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

func (m *fakeMailbox) loggedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts > 0
}

func (m *fakeMailbox) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// drop simulates the server closing the connection.
func (m *fakeMailbox) drop() {
	m.closeOnce.Do(func() { close(m.closed) })
}

func (m *fakeMailbox) Login(string, string) error { return m.loginErr }

func (m *fakeMailbox) Select(string) error { return nil }

func (m *fakeMailbox) SearchUnseen() ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var uids []uint32
	for _, uid := range m.order {
		if !m.messages[uid].seen {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (m *fakeMailbox) FetchRaw(uid uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErrs[uid]; err != nil {
		return nil, err
	}
	msg, ok := m.messages[uid]
	if !ok {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	return msg.raw, nil
}

func (m *fakeMailbox) MarkSeen(uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[uid]; ok {
		msg.seen = true
	}
	return nil
}

func (m *fakeMailbox) SupportsIdle() bool { return m.idle }

func (m *fakeMailbox) Idle() (idler, error) {
	m.mu.Lock()
	m.idles++
	n, hook := m.idles, m.idleHook
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return fakeIdler{}, nil
}

func (m *fakeMailbox) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	return nil
}

func (m *fakeMailbox) Close() error {
	m.drop()
	return nil
}

func (m *fakeMailbox) Closed() <-chan struct{} { return m.closed }

type fakeIdler struct{}

func (fakeIdler) Close() error { return nil }
func (fakeIdler) Wait() error  { return nil }

// fakeDialer hands out the queued mailboxes in order, then fails.
type fakeDialer struct {
	mu        sync.Mutex
	mailboxes []*fakeMailbox
	calls     int
	err       error
	notify    func()
}

func (d *fakeDialer) dial(_ IMAPConfig, notify func()) (mailboxClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.notify = notify
	if len(d.mailboxes) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("connection refused")
	}
	mb := d.mailboxes[0]
	d.mailboxes = d.mailboxes[1:]
	return mb, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) push() {
	d.mu.Lock()
	notify := d.notify
	d.mu.Unlock()
	notify()
}

// fakeTransport records outbound messages.
type fakeTransport struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

type sentMessage struct {
	from string
	to   []string
	raw  []byte
}

func (t *fakeTransport) Send(_ context.Context, from string, to []string, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, sentMessage{from: from, to: to, raw: msg})
	return nil
}

// recordingHandler collects handler calls.
type recordingHandler struct {
	mu    sync.Mutex
	calls []delivery
	fn    func(identifier, content string) error
}

type delivery struct {
	identifier string
	content    string
}

func (h *recordingHandler) handle(_ context.Context, identifier, content string) error {
	h.mu.Lock()
	h.calls = append(h.calls, delivery{identifier, content})
	fn := h.fn
	h.mu.Unlock()
	if fn != nil {
		return fn(identifier, content)
	}
	return nil
}

func (h *recordingHandler) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.calls...)
}
