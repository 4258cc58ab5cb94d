package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryStream answers a request as a sequence of events. The returned channel
// always ends with a done event and is closed after it; the producer stops
// early only when ctx is cancelled. Validation errors are returned up front,
// everything later degrades in-band.
func (o *Oracle) QueryStream(ctx context.Context, req Request) (<-chan Event, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	queryID := uuid.New().String()
	start := time.Now()
	events := make(chan Event)

	go func() {
		defer close(events)
		o.setQuerying(true)
		defer o.setQuerying(false)

		if req.DryRun {
			resp := o.dryRunResponse(queryID, req)
			o.recordHistory(queryID, req.Question, true)
			emit(ctx, events, Event{Type: EventMetadata, Metadata: &resp.Metadata})
			emit(ctx, events, Event{Type: EventDone})
			return
		}

		if o.remoteEligible(req) {
			done, emitted := o.remoteStream(ctx, events, queryID, req)
			if done {
				o.recordHistory(queryID, req.Question, true)
				return
			}
			if emitted {
				// Partial remote output already reached the caller; restarting
				// locally would duplicate text, so end the stream instead.
				emit(ctx, events, Event{Type: EventDone})
				o.recordHistory(queryID, req.Question, false)
				return
			}
			slog.Warn("remote stream failed before output, answering locally", "query_id", queryID)
		}

		o.localStream(ctx, events, queryID, req, start)
	}()

	return events, nil
}

// remoteStream proxies the remote backend's SSE stream. It reports whether
// the stream finished cleanly and whether any event reached the caller.
func (o *Oracle) remoteStream(ctx context.Context, events chan<- Event, queryID string, req Request) (done, emitted bool) {
	body, err := o.remote.Stream(ctx, remotePayload{QueryID: queryID, Request: req})
	if err != nil {
		slog.Warn("opening remote stream", "query_id", queryID, "error", err)
		return false, false
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			emit(ctx, events, Event{Type: EventDone})
			return true, true
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			// Malformed frames are dropped, not fatal.
			slog.Debug("skipping malformed stream frame", "query_id", queryID, "frame", data)
			continue
		}
		if !emit(ctx, events, ev) {
			return false, true
		}
		emitted = true
		if ev.Type == EventDone {
			return true, true
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("reading remote stream", "query_id", queryID, "error", err)
	}
	return false, emitted
}

// localStream runs the extractive path and replays the response as events:
// the answer word by word, then citations, then Socratic questions, then
// metadata, then done.
func (o *Oracle) localStream(ctx context.Context, events chan<- Event, queryID string, req Request, start time.Time) {
	resp := o.localQuery(ctx, queryID, req, start)
	o.recordHistory(queryID, req.Question, !resp.Degraded)

	words := strings.Fields(resp.Answer)
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		if !emit(ctx, events, Event{Type: EventText, Content: word}) {
			return
		}
		if o.tokenDelay > 0 {
			select {
			case <-time.After(o.tokenDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	for i := range resp.Citations {
		if !emit(ctx, events, Event{Type: EventCitation, Citation: &resp.Citations[i]}) {
			return
		}
	}
	for _, q := range resp.SocraticQuestions {
		if !emit(ctx, events, Event{Type: EventSocratic, Question: q}) {
			return
		}
	}
	if !emit(ctx, events, Event{Type: EventMetadata, Metadata: &resp.Metadata}) {
		return
	}
	emit(ctx, events, Event{Type: EventDone})
}

// emit sends one event unless the context is already cancelled. Returns false
// when the caller is gone.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
