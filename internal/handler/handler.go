// Package handler implements the per-connection protocol: answering sync
// requests against the store and running the streaming session.
//
// Each connection gets one Session. The session's reader hands inbound
// frames to the shared Handler, which is stateless apart from the store.
package handler

import (
	"context"

	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/metrics"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
	"github.com/xtxerr/telestream/internal/wire"
)

// =============================================================================
// Handler
// =============================================================================

// Config holds handler options.
type Config struct {
	// AcceptIngest stores inbound Update and NewDatapoint messages.
	// When false they are logged and discarded.
	AcceptIngest bool
}

// Handler answers sync requests against the store.
// Handler is safe for concurrent use by all sessions.
type Handler struct {
	store   *store.Store
	metrics *metrics.Metrics
	cfg     Config
}

// NewHandler creates a handler over st. m may be nil.
func NewHandler(st *store.Store, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{store: st, metrics: m, cfg: cfg}
}

// Store returns the store the handler answers from.
func (h *Handler) Store() *store.Store { return h.store }

// Answer builds one Update per requested topic present in the store, in
// request order. Unknown topics are omitted. Repeated topics are answered
// once. With a range, only points inside [start, end] are included; a
// known topic with nothing in range still gets an (empty) Update.
func (h *Handler) Answer(req message.Request) []message.Update {
	updates := make([]message.Update, 0, len(req.Topics))
	seen := make(map[string]struct{}, len(req.Topics))

	for _, topic := range req.Topics {
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}

		series, ok := h.store.Series(topic)
		if !ok {
			continue
		}
		if req.Range != nil {
			series = h.store.Range(topic, req.Range.Start(), req.Range.End())
		}
		updates = append(updates, message.Update{Topic: topic, Data: series})
	}
	return updates
}

// HandleRequest answers req and encodes the reply as one plain frame.
func (h *Handler) HandleRequest(req message.Request) (wire.Frame, error) {
	updates := h.Answer(req)
	payload, err := message.MarshalReply(updates)
	if err != nil {
		return wire.Frame{}, err
	}
	h.metrics.RequestAnswered(len(updates))
	return wire.Text(payload), nil
}

// HandleFrame processes one inbound frame and returns the reply frames to
// send, in order. A returned decode error means the frame was discarded;
// the connection stays open.
func (h *Handler) HandleFrame(ctx context.Context, f wire.Frame) ([]wire.Frame, error) {
	if f.IsBinary() {
		s, err := codec.DecodeColumnar(f.Payload)
		if err != nil {
			return nil, err
		}
		h.ingest(ctx, []types.Sample{s}, "datapoint")
		return nil, nil
	}

	msgs, err := message.UnmarshalBatch(f.Payload)
	if err != nil {
		return nil, err
	}

	var replies []wire.Frame
	for _, m := range msgs {
		switch m.Kind() {
		case message.KindRequest:
			reply, err := h.HandleRequest(*m.Request)
			if err != nil {
				return replies, err
			}
			logging.WithContext(ctx).Debug("request answered",
				"topics", len(m.Request.Topics),
				"ranged", m.Request.Range != nil)
			replies = append(replies, reply)

		case message.KindUpdate:
			samples := make([]types.Sample, len(m.Update.Data))
			for i, p := range m.Update.Data {
				samples[i] = types.Sample{Topic: m.Update.Topic, Time: p.Time, Value: p.Value}
			}
			h.ingest(ctx, samples, "update")

		case message.KindNewDatapoint:
			h.ingest(ctx, []types.Sample{*m.NewDatapoint}, "datapoint")
		}
	}
	return replies, nil
}

func (h *Handler) ingest(ctx context.Context, samples []types.Sample, source string) {
	if !h.cfg.AcceptIngest {
		logging.WithContext(ctx).Debug("inbound samples discarded", "count", len(samples), "source", source)
		return
	}
	for _, s := range samples {
		h.store.Add(s)
	}
	h.metrics.Ingested(source, len(samples))
}

// errIsRecoverable reports whether a reader error leaves the connection usable.
func errIsRecoverable(err error) bool {
	return errors.KindOf(err) == errors.KindDecode
}
