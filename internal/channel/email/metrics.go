package email

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humanloop_email_messages_total",
		Help: "Inbound messages considered by the email listener, by outcome",
	}, []string{"outcome"})

	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humanloop_email_scans_total",
		Help: "Unread-mailbox scans, by result",
	}, []string{"result"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humanloop_email_reconnects_total",
		Help: "IMAP reconnect attempts, by result",
	}, []string{"result"})

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humanloop_email_sends_total",
		Help: "Outbound emails, by result",
	}, []string{"result"})

	handlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "humanloop_email_handler_duration_seconds",
		Help:    "Time spent in the reply handler per delivered message",
		Buckets: prometheus.DefBuckets,
	})
)

// Message outcomes.
const (
	outcomeDelivered    = "delivered"
	outcomeHandlerError = "handler_error"
	outcomeUnmatched    = "unmatched"
	outcomeFetchError   = "fetch_error"
	outcomeParseError   = "parse_error"
)
