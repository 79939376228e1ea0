package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"wardex-cloud/internal/audit"
	"wardex-cloud/internal/auth"
	devices "wardex-cloud/internal/devices/domain"
)

// Provisioner registers a device identity with the device hub.
type Provisioner interface {
	EnsureDevice(ctx context.Context, deviceID string) (string, error)
}

// Gate authorizes device-scoped operations.
type Gate interface {
	EnsureDeviceAccess(ctx context.Context, userID, deviceID string) error
	EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error
}

// CreateRequest describes a device to register.
type CreateRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	RoomName string `json:"roomName"`
	WifiSSID string `json:"wifiSsid"`
}

// GrantRequest shares a device with another user.
type GrantRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ErrInvalidRequest wraps caller input errors.
var ErrInvalidRequest = errors.New("device: invalid request")

// Service implements registry operations for users.
type Service struct {
	devices     devices.DeviceRepository
	access      devices.AccessRepository
	gate        Gate
	provisioner Provisioner
	audit       audit.Logger
	logger      zerolog.Logger
}

// ServiceOption customizes the registry service.
type ServiceOption func(*Service)

// WithProvisioner assigns the hub identity provisioner.
func WithProvisioner(provisioner Provisioner) ServiceOption {
	return func(s *Service) {
		s.provisioner = provisioner
	}
}

// WithAuditLogger assigns the audit logger.
func WithAuditLogger(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a registry service.
func NewService(deviceRepo devices.DeviceRepository, accessRepo devices.AccessRepository, gate Gate, opts ...ServiceOption) (*Service, error) {
	if deviceRepo == nil || accessRepo == nil {
		return nil, errors.New("device service: nil repository")
	}
	if gate == nil {
		return nil, errors.New("device service: nil gate")
	}
	s := &Service{
		devices: deviceRepo,
		access:  accessRepo,
		gate:    gate,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns devices owned by or shared with identity.
func (s *Service) List(ctx context.Context, identity auth.Identity) ([]devices.Device, error) {
	return s.devices.ListAccessible(ctx, identity.UserID)
}

// Get returns a device the identity may read.
func (s *Service) Get(ctx context.Context, deviceID string, identity auth.Identity) (*devices.Device, error) {
	if err := s.gate.EnsureDeviceAccess(ctx, identity.UserID, deviceID); err != nil {
		return nil, err
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, auth.ErrNotFoundOrForbidden
	}
	if device.OwnerID != identity.UserID {
		device.DeviceKey = ""
	}
	return device, nil
}

// Create registers a device owned by identity.
// Hub provisioning is best-effort; the device exists locally either way.
func (s *Service) Create(ctx context.Context, req CreateRequest, identity auth.Identity) (*devices.Device, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	device := &devices.Device{
		ID:        devices.NewDeviceID(),
		OwnerID:   identity.UserID,
		Name:      name,
		Type:      strings.TrimSpace(req.Type),
		RoomName:  strings.TrimSpace(req.RoomName),
		WifiSSID:  strings.TrimSpace(req.WifiSSID),
		IsEnabled: true,
	}
	if device.Type == "" {
		device.Type = devices.DefaultDeviceType
	}
	if err := device.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return nil, err
	}

	if s.provisioner != nil {
		key, err := s.provisioner.EnsureDevice(ctx, device.ID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("device_id", device.ID).Msg("hub provisioning failed")
		case key != "":
			if err := s.devices.SetDeviceKey(ctx, device.ID, key); err != nil {
				s.logger.Warn().Err(err).Str("device_id", device.ID).Msg("store device key failed")
			} else {
				device.DeviceKey = key
			}
		}
	}

	s.logAudit(ctx, identity, audit.ActionDeviceCreate, device.ID, map[string]string{"name": device.Name, "type": device.Type})
	return device, nil
}

// Delete removes a device owned by identity.
func (s *Service) Delete(ctx context.Context, deviceID string, identity auth.Identity) error {
	deleted, err := s.devices.DeleteOwned(ctx, deviceID, identity.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return auth.ErrNotFoundOrForbidden
	}
	s.logAudit(ctx, identity, audit.ActionDeviceDelete, deviceID, nil)
	return nil
}

// GrantAccess shares a device owned by identity with another user.
func (s *Service) GrantAccess(ctx context.Context, deviceID string, req GrantRequest, identity auth.Identity) (*devices.DeviceAccess, error) {
	if err := s.gate.EnsureDeviceOwner(ctx, identity.UserID, deviceID); err != nil {
		return nil, err
	}
	if !devices.ValidID(req.UserID) {
		return nil, fmt.Errorf("%w: userId must be a uuid", ErrInvalidRequest)
	}
	if req.UserID == identity.UserID {
		return nil, fmt.Errorf("%w: owner already has access", ErrInvalidRequest)
	}
	role, ok := auth.NormalizeRole(strings.TrimSpace(req.Role))
	if !ok {
		return nil, fmt.Errorf("%w: role must be viewer, operator or admin", ErrInvalidRequest)
	}
	access := &devices.DeviceAccess{
		DeviceID: deviceID,
		UserID:   req.UserID,
		Role:     string(role),
	}
	if err := s.access.Grant(ctx, access); err != nil {
		return nil, err
	}
	s.logAudit(ctx, identity, audit.ActionAccessGrant, deviceID, map[string]string{"user_id": access.UserID, "role": access.Role})
	return access, nil
}

func (s *Service) logAudit(ctx context.Context, identity auth.Identity, action, deviceID string, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	req := audit.RequestFromContext(ctx)
	entry := audit.Entry{
		Actor:        identity.UserID,
		Action:       action,
		ResourceType: audit.ResourceDevice,
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}
	if metadata != nil {
		entry.Metadata = audit.Metadata(metadata)
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("audit log failed")
	}
}
