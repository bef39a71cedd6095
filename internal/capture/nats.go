package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSPrefix is the subject prefix of a remote scanning device.
const DefaultNATSPrefix = "stockscan.device"

// DefaultRequestTimeout bounds a single control round trip to the device.
const DefaultRequestTimeout = 5 * time.Second

// ControlRequest is the JSON body sent on <prefix>.control.
type ControlRequest struct {
	Op       string     `json:"op"`
	Settings *Settings  `json:"settings,omitempty"`
	Surface  string     `json:"surface,omitempty"`
	Enabled  *bool      `json:"enabled,omitempty"`
	View     ViewHandle `json:"view,omitempty"`
}

// ControlReply is the device's JSON answer to a ControlRequest.
type ControlReply struct {
	OK    bool       `json:"ok"`
	Error string     `json:"error,omitempty"`
	View  ViewHandle `json:"view,omitempty"`
}

// Control operations.
const (
	OpInitialize = "initialize"
	OpAttach     = "attach"
	OpDetection  = "detection"
	OpCamera     = "camera"
	OpDetach     = "detach"
)

// NATSEngine drives a remote scanning device over NATS.
//
// Lifecycle calls are request/reply on <prefix>.control. The device publishes
// recognized barcodes as JSON Detection values on <prefix>.detections.
type NATSEngine struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	sub     *nats.Subscription

	mu      sync.RWMutex
	handler func(Detection)
}

// NewNATSEngine connects to url and subscribes to the device's detections.
// Extra nats.Option values can be appended.
func NewNATSEngine(url, prefix string, timeout time.Duration, opts ...nats.Option) (*NATSEngine, error) {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	defaults := []nats.Option{
		nats.Name("stockscan"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	e := &NATSEngine{conn: nc, prefix: prefix, timeout: timeout}
	sub, err := nc.Subscribe(prefix+".detections", e.onMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s.detections: %w", prefix, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		nc.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	e.sub = sub
	return e, nil
}

func (e *NATSEngine) Initialize(ctx context.Context, settings Settings) error {
	_, err := e.request(ctx, ControlRequest{Op: OpInitialize, Settings: &settings})
	return err
}

func (e *NATSEngine) Attach(ctx context.Context, surface string) (ViewHandle, error) {
	reply, err := e.request(ctx, ControlRequest{Op: OpAttach, Surface: surface})
	if err != nil {
		return "", err
	}
	if reply.View == "" {
		return "", errors.New("device returned no view handle")
	}
	return reply.View, nil
}

func (e *NATSEngine) SetDetectionEnabled(ctx context.Context, enabled bool) error {
	_, err := e.request(ctx, ControlRequest{Op: OpDetection, Enabled: &enabled})
	return err
}

func (e *NATSEngine) SetCameraPower(ctx context.Context, on bool) error {
	_, err := e.request(ctx, ControlRequest{Op: OpCamera, Enabled: &on})
	return err
}

func (e *NATSEngine) Detach(ctx context.Context, view ViewHandle) error {
	_, err := e.request(ctx, ControlRequest{Op: OpDetach, View: view})
	return err
}

func (e *NATSEngine) OnDetection(fn func(Detection)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = fn
}

// Close unsubscribes and closes the connection.
func (e *NATSEngine) Close() error {
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}
	e.conn.Close()
	return nil
}

func (e *NATSEngine) request(ctx context.Context, req ControlRequest) (ControlReply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return ControlReply{}, fmt.Errorf("marshaling %s request: %w", req.Op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msg, err := e.conn.RequestWithContext(ctx, e.prefix+".control", data)
	if err != nil {
		return ControlReply{}, fmt.Errorf("%s request: %w", req.Op, err)
	}

	var reply ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return ControlReply{}, fmt.Errorf("decoding %s reply: %w", req.Op, err)
	}
	if !reply.OK {
		if reply.Error == "" {
			reply.Error = "device refused " + req.Op
		}
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

func (e *NATSEngine) onMsg(msg *nats.Msg) {
	var d Detection
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		slog.Warn("dropping malformed device detection", "subject", msg.Subject, "error", err)
		return
	}
	e.mu.RLock()
	fn := e.handler
	e.mu.RUnlock()
	if fn != nil {
		fn(d)
	}
}
