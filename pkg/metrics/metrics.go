// Package metrics holds the prometheus collectors of the chat sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_sync"

var (
	// ChannelsActive live transport channels held by all registries
	ChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channels_active",
		Help:      "Realtime channels currently open.",
	})

	// ChannelOpens channel open attempts by result
	ChannelOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_opens_total",
		Help:      "Realtime channel open attempts.",
	}, []string{"result"})

	// ChannelTeardownFailures channels whose close call failed
	ChannelTeardownFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_teardown_failures_total",
		Help:      "Realtime channel close calls that returned an error.",
	})

	// MessagesMerged inbound merges by outcome (applied, duplicate)
	MessagesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_merged_total",
		Help:      "Inbound messages merged into the entity store.",
	}, []string{"outcome"})

	// Reconciliations optimistic messages collapsed into their confirmed echo
	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimistic_reconciliations_total",
		Help:      "Temporary messages replaced by a confirmed message.",
	})

	// SendFailures failed message submissions
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Message sends rejected by the data access layer.",
	})

	// ConversationRefreshes full conversation list recomputes by trigger
	ConversationRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_refreshes_total",
		Help:      "Full conversation list refreshes.",
	}, []string{"trigger"})

	// BotMessages simulated messages emitted
	BotMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bot_messages_total",
		Help:      "Messages emitted by simulated participants.",
	})

	// BotRoomsActive rooms with a running bot task
	BotRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bot_rooms_active",
		Help:      "Rooms with running bot activity.",
	})
)
