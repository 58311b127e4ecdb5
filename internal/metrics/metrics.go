package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Battle mediation metrics, scraped from GET /metrics.
var (
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battlegate_connections_open",
		Help: "Currently open websocket connections",
	})

	RoomsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battlegate_rooms_live",
		Help: "Rooms currently held by the registry",
	})

	MatchesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battlegate_matches_live",
		Help: "Matches currently running",
	})

	MatchesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlegate_matches_started_total",
		Help: "Matches started, by mode",
	}, []string{"mode"})

	MatchesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlegate_matches_ended_total",
		Help: "Matches ended, by close reason",
	}, []string{"reason"})

	LinesFannedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battlegate_protocol_lines_sent_total",
		Help: "Protocol lines delivered to client sockets",
	})

	LinesReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battlegate_protocol_lines_replayed_total",
		Help: "Cached protocol lines re-sent on reconnect",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battlegate_reconnects_total",
		Help: "Successful socket rebinds onto a running match",
	})

	EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlegate_envelopes_received_total",
		Help: "Client JSON envelopes received, by type",
	}, []string{"type"})

	AIDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlegate_ai_decisions_total",
		Help: "AI choices produced, by difficulty tier",
	}, []string{"tier"})

	LLMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battlegate_llm_fallbacks_total",
		Help: "Tier-5 decisions that fell back to the tier-4 heuristic",
	})
)
