package signaling

import "log/slog"

// Sink consumes relayed signals. The call state machine is the only sink.
type Sink interface {
	HandleSignal(msg *Message)
}

// Handler routes incoming relay messages to a Sink.
type Handler struct {
	client       *Client
	sink         Sink
	logger       *slog.Logger
	Disconnected chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client, sink Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:       client,
		sink:         sink,
		logger:       logger,
		Disconnected: make(chan struct{}),
	}
}

// Start drains the client until its connection closes. Run it in its own goroutine.
func (h *Handler) Start() {
	defer close(h.Disconnected)

	for msg := range h.client.Incoming() {
		if err := msg.Validate(); err != nil {
			h.logger.Warn("dropping malformed message", "type", msg.Type, "error", err)
			continue
		}
		if !IsSignal(msg.Type) {
			h.logger.Debug("ignoring non-signal message", "type", msg.Type)
			continue
		}
		h.sink.HandleSignal(msg)
	}
}
