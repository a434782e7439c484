package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/humanloop/internal/channel"
)

// processor turns unread mailbox messages into handler calls.
type processor struct {
	handler           channel.Handler
	logger            *slog.Logger
	maxContentChars   int
	markUnmatchedSeen bool
}

// scan searches for unread messages and processes each in search order.
// Per-message failures are logged and do not stop the pass.
func (p *processor) scan(ctx context.Context, mb mailboxClient) error {
	uids, err := mb.SearchUnseen()
	if err != nil {
		return fmt.Errorf("searching unread messages: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	p.logger.Debug("unread messages found", "count", len(uids))
	for _, uid := range uids {
		p.process(ctx, mb, uid)
	}
	return nil
}

func (p *processor) process(ctx context.Context, mb mailboxClient, uid uint32) {
	raw, err := mb.FetchRaw(uid)
	if err != nil {
		messagesTotal.WithLabelValues(outcomeFetchError).Inc()
		p.logger.Warn("fetching message failed", "uid", uid, "error", err)
		return
	}

	msg, err := parseMessage(uid, raw)
	if err != nil {
		messagesTotal.WithLabelValues(outcomeParseError).Inc()
		p.logger.Warn("parsing message failed", "uid", uid, "error", err)
		return
	}

	identifier, ok := ExtractIdentifier(msg.Subject)
	if !ok {
		messagesTotal.WithLabelValues(outcomeUnmatched).Inc()
		p.logger.Debug("no identifier in subject, skipping",
			"uid", uid, "subject", msg.Subject)
		if p.markUnmatchedSeen {
			p.markSeen(mb, uid)
		}
		return
	}

	content := NormalizeContent(msg.Content(), p.maxContentChars)

	started := time.Now()
	err = p.invoke(ctx, identifier, content)
	handlerDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		messagesTotal.WithLabelValues(outcomeHandlerError).Inc()
		p.logger.Error("reply handler failed",
			"uid", uid, "identifier", identifier, "error", err)
	} else {
		messagesTotal.WithLabelValues(outcomeDelivered).Inc()
		p.logger.Info("reply delivered", "uid", uid, "identifier", identifier)
	}

	p.markSeen(mb, uid)
}

// invoke calls the handler, converting a panic into an error.
func (p *processor) invoke(ctx context.Context, identifier, content string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, identifier, content)
}

func (p *processor) markSeen(mb mailboxClient, uid uint32) {
	if err := mb.MarkSeen(uid); err != nil {
		p.logger.Warn("marking message read failed", "uid", uid, "error", err)
	}
}
