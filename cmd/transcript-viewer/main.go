// Command transcript-viewer tails the transcript topics and shows turns live
// in a browser over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"voice-turn-ingress/internal/events"
	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/viewer"
)

func main() {
	addr := flag.String("addr", ":8081", "HTTP listen address")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "interaction.transcript.partial", "Partial, eager and resume topic")
	topicFinal := flag.String("topic-final", "interaction.transcript.final", "Final transcript topic")
	lookback := flag.Duration("lookback", time.Hour, "Replay events newer than this")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := viewer.NewHub()
	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers:  strings.Split(*brokers, ","),
		Topics:   []string{*topicPartial, *topicFinal},
		Lookback: *lookback,
	})
	go func() {
		if err := consumer.Run(ctx, hub.Broadcast); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Consumer stopped")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	r.Handle("/ws", hub)

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", *addr).Str("brokers", *brokers).Msg("Transcript viewer started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// page renders one line per segment. Eager text is shown dimmed until the
// final replaces it or a resume withdraws it.
const page = `<!doctype html>
<html><head><meta charset="utf-8"><title>Transcript viewer</title>
<style>
body{font-family:sans-serif;margin:2em}
.seg{margin:.3em 0}.partial{color:#888}.eager{color:#a60}.final{color:#000;font-weight:bold}
</style></head>
<body><h1>Live turns</h1><div id="log"></div>
<script>
const log = document.getElementById("log");
const rows = {};
function row(id) {
  if (!rows[id]) { rows[id] = document.createElement("div"); rows[id].className = "seg"; log.prepend(rows[id]); }
  return rows[id];
}
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const r = row(ev.segmentId);
  switch (ev.eventType) {
  case "interaction.transcript.partial": r.className = "seg partial"; r.textContent = ev.text; break;
  case "interaction.transcript.eager": r.className = "seg eager"; r.textContent = ev.text + " ?"; break;
  case "interaction.turn.resumed": r.className = "seg partial"; break;
  case "interaction.transcript.final": r.className = "seg final"; r.textContent = ev.text + " (" + (ev.confidence || 0).toFixed(2) + ")"; break;
  }
};
</script></body></html>
`
