// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RepliesProcessed counts inbound replies by terminal outcome.
	RepliesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyflow",
		Name:      "replies_processed_total",
		Help:      "Inbound replies by processing outcome.",
	}, []string{"result"})

	// MessagesFetched counts messages pulled from mail accounts.
	MessagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyflow",
		Name:      "messages_fetched_total",
		Help:      "Messages fetched from inbound mail accounts.",
	}, []string{"connector"})

	// AttachmentsStored counts attachment binaries persisted from replies.
	AttachmentsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replyflow",
		Name:      "attachments_stored_total",
		Help:      "Attachment binaries persisted from inbound replies.",
	})
)
