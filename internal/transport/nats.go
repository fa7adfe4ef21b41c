// Package transport serves conversation turns over NATS request/reply and
// publishes execution events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/handlers"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req *models.TurnRequest) (*models.TurnResponse, error)
}

// Options configure a NATSTransport.
type Options struct {
	URL            string
	Name           string
	RequestSubject string
	EventSubject   string
	ConnectTimeout time.Duration
	// TurnTimeout bounds each request handled off the request subject.
	TurnTimeout time.Duration
}

type NATSTransport struct {
	conn   *nats.Conn
	opts   Options
	turns  TurnProcessor
	logger *zap.Logger
}

func NewNATSTransport(opts Options, turns TurnProcessor, logger *zap.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", opts.URL))
	return newTransport(conn, opts, turns, logger), nil
}

func newTransport(conn *nats.Conn, opts Options, turns TurnProcessor, logger *zap.Logger) *NATSTransport {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 30 * time.Second
	}
	return &NATSTransport{conn: conn, opts: opts, turns: turns, logger: logger}
}

// Start subscribes to the request subject.
func (nt *NATSTransport) Start() error {
	if _, err := nt.conn.Subscribe(nt.opts.RequestSubject, nt.handleTurnRequest); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.opts.RequestSubject, err)
	}
	nt.logger.Info("subscribed", zap.String("subject", nt.opts.RequestSubject))
	return nil
}

func (nt *NATSTransport) handleTurnRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), nt.opts.TurnTimeout)
	defer cancel()

	reply := nt.processPayload(ctx, msg.Data)
	if err := msg.Respond(reply); err != nil {
		nt.logger.Error("failed to send reply", zap.Error(err))
	}
}

// processPayload decodes a TurnRequest, runs it and encodes either the
// TurnResponse or an ErrorResponse.
func (nt *NATSTransport) processPayload(ctx context.Context, data []byte) []byte {
	var req models.TurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		nt.logger.Warn("invalid turn request", zap.Error(err))
		return encodeError(models.ErrorInvalidInput, "invalid request format")
	}

	resp, err := nt.turns.ProcessTurn(ctx, &req)
	if err != nil {
		code, message := errorCode(err)
		if code == models.ErrorInternal {
			nt.logger.Error("turn failed",
				zap.String("session_id", memory.ShortID(req.SessionID)),
				zap.Error(err))
		}
		return encodeError(code, message)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		nt.logger.Error("failed to marshal response", zap.Error(err))
		return encodeError(models.ErrorInternal, "internal error")
	}
	return out
}

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, handlers.ErrInvalidInput):
		return models.ErrorInvalidInput, err.Error()
	case errors.Is(err, handlers.ErrUnauthenticated):
		return models.ErrorUnauthenticated, err.Error()
	case errors.Is(err, memory.ErrQuotaExceeded):
		return models.ErrorQuotaExceeded, err.Error()
	case errors.Is(err, memory.ErrSessionLocked):
		return models.ErrorSessionBusy, err.Error()
	default:
		return models.ErrorInternal, "internal error"
	}
}

func encodeError(code, message string) []byte {
	out, _ := json.Marshal(models.ErrorResponse{Error: message, Code: code})
	return out
}

// PublishExecution emits e on the event subject.
func (nt *NATSTransport) PublishExecution(_ context.Context, e models.ExecutionEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution event: %w", err)
	}
	if err := nt.conn.Publish(nt.opts.EventSubject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", nt.opts.EventSubject, err)
	}
	return nil
}

func (nt *NATSTransport) Ping(_ context.Context) error {
	if nt.conn == nil || !nt.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (nt *NATSTransport) Close() error {
	if nt.conn == nil {
		return nil
	}
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return err
	}
	nt.logger.Info("NATS connection closed")
	return nil
}
