package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

const (
	commandSubject = "bioreactor.device.command"
	statusSubject  = "bioreactor.device.status"
)

// devicePayload is the wire format of one command on the device subject.
type devicePayload struct {
	CommandID string          `json:"command_id"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// deviceReply is the wire format of the device's response.
type deviceReply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NATSChannel implements DeviceChannel over NATS request/reply.
type NATSChannel struct {
	nc  *nats.Conn
	log *slog.Logger
}

// NewNATSChannel connects to the NATS server fronting the device tier.
func NewNATSChannel(url string, log *slog.Logger) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.Name("bioreactor-hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("device channel disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("device channel reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device channel: %w", err)
	}
	return &NATSChannel{nc: nc, log: log}, nil
}

func (c *NATSChannel) Request(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
	payload, err := json.Marshal(devicePayload{
		CommandID: cmd.ID.String(),
		Action:    string(cmd.Action),
		Args:      cmd.Args,
	})
	if err != nil {
		return nil, err
	}

	msg, err := c.nc.RequestWithContext(ctx, commandSubject, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, experiment.ErrRelayTimeout
		}
		return nil, experiment.ErrRelayUnreachable
	}

	var reply deviceReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("malformed device reply: %w", err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("device error: %s", reply.Error)
	}
	return reply.Result, nil
}

func (c *NATSChannel) Ping(ctx context.Context, timeout time.Duration) error {
	if c.nc.IsClosed() || !c.nc.IsConnected() {
		return experiment.ErrRelayUnreachable
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := c.nc.RequestWithContext(pingCtx, statusSubject, nil); err != nil {
		return experiment.ErrRelayUnreachable
	}
	return nil
}

func (c *NATSChannel) Close() {
	c.nc.Drain()
	c.nc.Close()
}
