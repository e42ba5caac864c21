package services

import (
	"context"
	"sync"
	"time"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
	"github.com/geotrack/tracker/internal/repository"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultReportInterval = 60 * time.Second
	sampleTimeout         = 10 * time.Second
	sampleMaxAge          = 30 * time.Second
)

// TrackingConfig configures the orchestrator
type TrackingConfig struct {
	UserID         string
	LocalDeviceID  string
	SweepInterval  time.Duration
	ReportInterval time.Duration
}

// TrackingService wires the pipeline together: remote API → store,
// push channel → reducer → store, store → renderer and stream, local
// sampler → push channel. All inbound mutation funnels through
// HandleMessage, so one event is exactly one store transaction.
type TrackingService struct {
	cfg      TrackingConfig
	store    *DeviceStore
	conn     *ConnectionManager
	renderer *MapRenderer
	geo      *GeolocationService
	api      *APIClient
	cache    repository.DeviceCacheRepo
	notifier *OfflineNotifier
	hub      *StreamHub
	metrics  *observability.PipelineMetrics
	log      *observability.Logger

	mu         sync.Mutex
	lastStatus map[string]models.DeviceStatus

	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewTrackingService creates the orchestrator. geo, cache, notifier and
// hub may be nil; the corresponding features are then disabled.
func NewTrackingService(
	cfg TrackingConfig,
	store *DeviceStore,
	conn *ConnectionManager,
	renderer *MapRenderer,
	geo *GeolocationService,
	api *APIClient,
	cache repository.DeviceCacheRepo,
	notifier *OfflineNotifier,
	hub *StreamHub,
	metrics *observability.PipelineMetrics,
) *TrackingService {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaultReportInterval
	}
	return &TrackingService{
		cfg:        cfg,
		store:      store,
		conn:       conn,
		renderer:   renderer,
		geo:        geo,
		api:        api,
		cache:      cache,
		notifier:   notifier,
		hub:        hub,
		metrics:    metrics,
		log:        observability.WithField("component", "tracking"),
		lastStatus: make(map[string]models.DeviceStatus),
		stopCh:     make(chan struct{}),
	}
}

// Start loads the device list, opens the push channel and spins up the
// background loops
func (s *TrackingService) Start(ctx context.Context) error {
	if err := s.loadDevices(ctx); err != nil {
		return err
	}

	s.unsubscribe = s.store.Subscribe(s.onStoreChange)

	s.conn.SetHandler(s.HandleMessage)
	s.conn.Connect(s.store.IDs())

	s.wg.Add(1)
	go s.sweepLoop()

	if s.geo != nil && s.cfg.LocalDeviceID != "" {
		s.wg.Add(1)
		go s.reportLoop()
	}

	s.renderOnce()
	return nil
}

// Stop tears everything down: push channel, timers, stream clients.
// Idempotent.
func (s *TrackingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.conn.Disconnect()
		if s.hub != nil {
			s.hub.CloseAll()
		}
	})
	s.wg.Wait()
}

// Logout clears all session state: store, cache, push channel
func (s *TrackingService) Logout(ctx context.Context) {
	s.conn.Disconnect()
	s.store.Clear()
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, s.cfg.UserID); err != nil {
			s.log.Warnf("cache invalidate failed: %v", err)
		}
	}
}

// Register registers a new device with the remote service and starts
// watching it
func (s *TrackingService) Register(ctx context.Context, req models.RegisterDeviceRequest) (*models.DeviceRecord, error) {
	remote, err := s.api.RegisterDevice(ctx, req)
	if err != nil {
		return nil, err
	}

	rec, err := remote.ToRecord()
	if err != nil {
		return nil, err
	}

	s.store.Put(rec)
	if s.metrics != nil {
		s.metrics.DeviceCount(1)
	}
	s.conn.Watch(rec.DeviceID)
	s.persistCache(ctx)
	return rec, nil
}

// Delete removes a device remotely and locally
func (s *TrackingService) Delete(ctx context.Context, deviceID string) error {
	if err := s.api.DeleteDevice(ctx, deviceID); err != nil {
		return err
	}

	s.conn.Unwatch(deviceID)
	if s.store.Remove(deviceID) && s.metrics != nil {
		s.metrics.DeviceCount(-1)
	}
	s.mu.Lock()
	delete(s.lastStatus, deviceID)
	s.mu.Unlock()
	s.persistCache(ctx)
	return nil
}

// HandleMessage is the single dispatch point for every decoded push
// event
func (s *TrackingService) HandleMessage(msg models.ServerMessage) {
	switch ev := msg.(type) {
	case models.LocationUpdate:
		s.applyLocation(ev)

	case models.DeviceNotification:
		s.log.WithField("device_id", ev.DeviceID).Debugf("notification: %s", ev.Message)
		if ev.Location != nil {
			s.applyLocation(models.LocationUpdate{
				DeviceID:     ev.DeviceID,
				Location:     *ev.Location,
				LocationName: ev.LocationName,
				UpdatedAt:    ev.UpdatedAt,
			})
		}

	case models.DeviceOffline:
		s.markOffline(ev.DeviceID)

	case models.TrackingStarted:
		s.log.WithField("device_id", ev.DeviceID).Info("tracking started")

	case models.TrackingStopped:
		s.log.WithField("device_id", ev.DeviceID).Info("tracking stopped")

	default:
		s.log.Debugf("unhandled event %s", msg.EventName())
	}
}

// applyLocation folds one location event into the store. A bad event is
// dropped and counted; it never halts the stream.
func (s *TrackingService) applyLocation(ev models.LocationUpdate) {
	rec, ok := s.store.Get(ev.DeviceID)
	if !ok {
		s.log.WithField("device_id", ev.DeviceID).Warn("dropping event for unregistered device")
		if s.metrics != nil {
			s.metrics.EventDropped("unknown_device")
		}
		return
	}

	next, err := ApplyLocationUpdate(rec, ev)
	if err != nil {
		s.log.WithField("device_id", ev.DeviceID).Warnf("dropping malformed event: %v", err)
		if s.metrics != nil {
			s.metrics.EventDropped("malformed")
		}
		return
	}

	s.store.Put(next)
	if s.metrics != nil {
		s.metrics.EventApplied()
	}

	s.mu.Lock()
	s.lastStatus[ev.DeviceID] = models.StatusOnline
	s.mu.Unlock()
}

// markOffline records an explicit offline signal
func (s *TrackingService) markOffline(deviceID string) {
	now := time.Now().UTC()
	rec := s.store.Upsert(deviceID, DevicePatch{OfflineAt: &now})
	if rec == nil {
		return
	}

	s.mu.Lock()
	was := s.lastStatus[deviceID]
	s.lastStatus[deviceID] = models.StatusOffline
	s.mu.Unlock()

	if was == models.StatusOnline && s.notifier != nil {
		go s.notifier.DeviceOffline(context.Background(), rec)
	}
}

// StartTracking asks the remote service to begin pushing events for a
// device and makes sure it is watched on the push channel
func (s *TrackingService) StartTracking(ctx context.Context, deviceID string) error {
	if err := s.api.StartTracking(ctx, deviceID); err != nil {
		return err
	}
	s.conn.Watch(deviceID)
	return nil
}

// StopTracking asks the remote service to stop pushing events and drops
// the device from the watch set
func (s *TrackingService) StopTracking(ctx context.Context, deviceID string) error {
	if err := s.api.StopTracking(ctx, deviceID); err != nil {
		return err
	}
	s.conn.Unwatch(deviceID)
	return nil
}

// ConnectionState exposes push-channel health to the dashboard
func (s *TrackingService) ConnectionState() models.ConnectionState {
	return s.conn.State()
}

// Reconnect is the manual recovery trigger out of the failed state
func (s *TrackingService) Reconnect() {
	s.conn.Reconnect()
}

func (s *TrackingService) loadDevices(ctx context.Context) error {
	devices, err := s.api.FetchDevices(ctx)
	if err != nil {
		s.log.Warnf("device fetch failed, using cache: %v", err)
		return s.loadFromCache(ctx)
	}

	for _, d := range devices {
		rec, err := d.ToRecord()
		if err != nil {
			s.log.Warnf("skipping bad device record: %v", err)
			continue
		}
		s.store.Put(rec)
	}
	if s.metrics != nil {
		s.metrics.DeviceCount(int64(s.store.Len()))
	}
	s.persistCache(ctx)
	s.log.Infof("loaded %d devices", s.store.Len())
	return nil
}

func (s *TrackingService) loadFromCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.GetForUser(ctx, s.cfg.UserID)
	if err != nil {
		s.log.Warnf("cache read failed: %v", err)
		return nil
	}
	for _, rec := range cached {
		s.store.Put(rec)
	}
	if s.metrics != nil {
		s.metrics.DeviceCount(int64(s.store.Len()))
	}
	s.log.Infof("loaded %d devices from cache", len(cached))
	return nil
}

func (s *TrackingService) persistCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveAll(ctx, s.cfg.UserID, s.store.List()); err != nil {
		s.log.Warnf("cache write failed: %v", err)
	}
}

func (s *TrackingService) onStoreChange(change StoreChange) {
	if s.hub != nil {
		switch change.Type {
		case ChangeClear:
			s.hub.Broadcast(StreamMessage{Type: StreamDeviceChange})
		default:
			var payload interface{}
			if change.Record != nil {
				resp := change.Record.ToResponse(time.Now().UTC())
				payload = resp
			} else {
				payload = map[string]string{"deviceId": change.DeviceID}
			}
			s.hub.Broadcast(StreamMessage{Type: StreamDeviceChange, Payload: payload})
		}
	}
	s.renderOnce()
}

func (s *TrackingService) renderOnce() {
	if s.renderer != nil && s.renderer.Ready() {
		s.renderer.Render(s.store.List())
	}
}

// sweepLoop re-derives statuses on a fixed interval so devices fade to
// offline without any event arriving
func (s *TrackingService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TrackingService) sweep() {
	now := time.Now().UTC()
	var wentOffline []*models.DeviceRecord

	s.mu.Lock()
	for _, rec := range s.store.List() {
		status := rec.StatusAt(now)
		if s.lastStatus[rec.DeviceID] == models.StatusOnline && status == models.StatusOffline {
			wentOffline = append(wentOffline, rec)
		}
		s.lastStatus[rec.DeviceID] = status
	}
	s.mu.Unlock()

	for _, rec := range wentOffline {
		s.log.WithField("device_id", rec.DeviceID).Info("device went stale")
		if s.notifier != nil {
			go s.notifier.DeviceOffline(context.Background(), rec)
		}
	}

	// Status is derived, so a sweep can change marker colors without a
	// store mutation
	s.renderOnce()
}

// reportLoop periodically samples the local position and reports it
// upstream. Outbound sends and inbound updates run on independent
// timers.
func (s *TrackingService) reportLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.reportOnce() {
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

// reportOnce samples and reports one position. Returns false when
// reporting must stop for the rest of the session.
func (s *TrackingService) reportOnce() bool {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	pos, err := s.geo.Sample(ctx, SampleOptions{
		HighAccuracy: true,
		Timeout:      sampleTimeout,
		MaxAge:       sampleMaxAge,
	})
	if err != nil {
		if reason, ok := FailureReason(err); ok && reason == FailurePermissionDenied {
			s.log.Warn("location permission denied, disabling reports for this session")
			return false
		}
		s.log.Debugf("position sample failed: %v", err)
		return true
	}

	s.conn.ReportLocation(pos.Report(s.cfg.LocalDeviceID, false))
	return true
}
