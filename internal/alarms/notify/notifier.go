package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	devices "wardex-cloud/internal/devices/domain"
)

// DeviceReader loads device metadata for message rendering.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier tells humans that a door opened while the device was armed.
type Notifier struct {
	devices        DeviceReader
	channel        Channel
	template       *Template
	clock          Clock
	logger         zerolog.Logger
	mu             sync.Mutex
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the delivery timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same device.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(deviceReader DeviceReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if deviceReader == nil {
		return nil, errors.New("alarm notifier: nil device reader")
	}
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		devices:        deviceReader,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zerolog.Nop(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// TriggerAlarm sends an alarm_triggered notification for deviceID.
func (n *Notifier) TriggerAlarm(ctx context.Context, deviceID string) {
	if n == nil || n.channel == nil || deviceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.requestTimeout)
	defer cancel()

	device, err := n.devices.Get(ctx, deviceID)
	if err != nil || device == nil {
		n.logger.Warn().Err(err).Str("device_id", deviceID).Msg("alarm notification skipped: device lookup failed")
		return
	}
	content, err := n.template.Render(buildTemplateData(string(devices.AlarmEventTriggered), device, n.clock.Now()))
	if err != nil {
		n.logger.Error().Err(err).Msg("render alarm notification")
		return
	}
	if !n.shouldSend(deviceID, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Error().Err(err).Str("device_id", deviceID).Msg("alarm notification failed")
		return
	}
	n.markSent(deviceID, content)
}

func buildTemplateData(event string, device *devices.Device, now time.Time) TemplateData {
	name := device.Name
	if name == "" {
		name = device.ID
	}
	battery := ""
	if device.LastBattery != nil {
		battery = fmt.Sprintf("%.2f", *device.LastBattery)
	}
	at := device.LastEventAt
	if at.IsZero() {
		at = now
	}
	return TemplateData{
		Device:     name,
		DeviceID:   device.ID,
		Room:       device.RoomName,
		Door:       string(device.LastDoorState),
		Battery:    battery,
		Time:       at.UTC().Format(time.RFC3339),
		Event:      event,
		EventLabel: eventLabel(event),
	}
}

func eventLabel(event string) string {
	switch devices.AlarmEventType(event) {
	case devices.AlarmEventTriggered:
		return "Triggered"
	case devices.AlarmEventOn:
		return "Armed"
	case devices.AlarmEventOff:
		return "Disarmed"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(deviceID, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[deviceID]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(deviceID, content string) {
	n.mu.Lock()
	n.sent[deviceID] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
