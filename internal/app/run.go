package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rlacerda/vigia/internal/api"
	"github.com/rlacerda/vigia/internal/call"
	"github.com/rlacerda/vigia/internal/config"
	"github.com/rlacerda/vigia/internal/geocode"
	"github.com/rlacerda/vigia/internal/geofence"
	"github.com/rlacerda/vigia/internal/notify"
	"github.com/rlacerda/vigia/internal/realtime"
	"github.com/rlacerda/vigia/internal/storage"
	"github.com/rlacerda/vigia/internal/track"
	"github.com/rlacerda/vigia/internal/util"
)

// Options carries everything Run needs beyond the config file. Locator and
// Presenter are platform integrations; either may be nil, which disables the
// corresponding subsystem.
type Options struct {
	DeviceDir string
	CfgPath   string
	Cfg       config.Config

	// Locator supplies position fixes. Nil disables the tracking loop.
	Locator track.Locator

	// Presenter shows notifications to the local user. Nil disables the
	// notify dispatcher.
	Presenter notify.Presenter

	// Authorize gates which members' events this device surfaces. Nil
	// denies all, so embedders must opt in.
	Authorize notify.Authorize

	// Policy decides incoming camera requests. Nil denies all.
	Policy call.Policy

	// Channel overrides the relay transport. Nil dials cfg.Relay.URL.
	Channel realtime.Channel
}

// App is the assembled device runtime.
type App struct {
	cfg       config.Config
	deviceDir string
	policy    call.Policy

	DB      *storage.DB
	Channel realtime.Channel
	Engine  *geofence.Engine
	Source  *track.Source
	Calls   *call.Manager
	Notify  *notify.Dispatcher
	Geocode *geocode.Resolver

	beacon *track.Beacon

	// lowBattery tracks whether the last sample was already below the
	// threshold, so the alert fires once per discharge.
	lowBattery bool
}

// New assembles the runtime from options. It opens storage and constructs
// every subsystem but starts nothing.
func New(opt Options) (*App, error) {
	cfg := opt.Cfg

	db, err := storage.Open(util.ResolvePath(opt.DeviceDir, cfg.Paths.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ch := opt.Channel
	if ch == nil && cfg.Relay.URL != "" {
		ch = realtime.NewWS(cfg.Relay.URL, cfg.Identity.UserID, realtime.Options{
			MaxAttempts: cfg.Relay.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Relay.BaseDelaySec) * time.Second,
			MaxDelay:    time.Duration(cfg.Relay.MaxDelaySec) * time.Second,
		})
	}
	if ch == nil {
		db.Close()
		return nil, errors.New("no relay channel: set relay.url or inject one")
	}

	a := &App{
		cfg:       cfg,
		deviceDir: opt.DeviceDir,
		policy:    opt.Policy,
		DB:        db,
		Channel:   ch,
		Engine:    geofence.NewEngine(),
		Geocode:   geocode.NewResolver(cfg.Geocode.URL, time.Duration(cfg.Geocode.TimeoutSec)*time.Second),
	}

	// Zones come from the store; a zone file, when configured, overrides
	// them and is watched for live edits.
	if zones, err := db.ListZones(); err == nil && len(zones) > 0 {
		a.Engine.LoadZones(zones)
	}
	if cfg.Paths.ZoneFile != "" {
		path := util.ResolvePath(opt.DeviceDir, cfg.Paths.ZoneFile)
		if zones, err := geofence.LoadZoneFile(path); err != nil {
			log.Printf("GEO: zone file %s: %v", path, err)
		} else {
			a.Engine.LoadZones(zones)
		}
	}

	if opt.Locator != nil {
		a.Source = track.NewSource(opt.Locator, track.Config{
			Options: track.Options{
				HighAccuracy: cfg.Track.HighAccuracy,
				MaxSampleAge: time.Duration(cfg.Track.MaxSampleAgeSec) * time.Second,
				Timeout:      time.Duration(cfg.Track.TimeoutSec) * time.Second,
			},
			Interval:  time.Duration(cfg.Track.IntervalSec) * time.Second,
			Heartbeat: time.Duration(cfg.Track.HeartbeatSec) * time.Second,
		})
	}
	if cfg.Track.BeaconURL != "" {
		a.beacon = track.NewBeacon(cfg.Track.BeaconURL, cfg.Identity.UserID)
	}

	if opt.Presenter != nil {
		a.Notify = notify.NewDispatcher(cfg.Identity.UserID, opt.Presenter, opt.Authorize)
	}

	return a, nil
}

// Run starts every subsystem and blocks until ctx is cancelled, then shuts
// down gracefully: offline status, final beacon, session teardown.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg

	if err := a.Channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	log.Printf("APP: relay connected as %s", cfg.Identity.UserID)

	// Announce presence whenever the channel comes (back) online.
	cancelState := a.Channel.OnState(func(s realtime.State) {
		if s == realtime.Online {
			a.Channel.Send(realtime.TopicMemberStatus, realtime.MemberStatusPayload{
				UserID: cfg.Identity.UserID,
				Online: true,
			})
		}
	})
	defer cancelState()
	a.Channel.Send(realtime.TopicMemberStatus, realtime.MemberStatusPayload{
		UserID: cfg.Identity.UserID,
		Online: true,
	})

	a.Calls = call.NewManager(ctx, a.Channel, call.Config{
		SelfID:             cfg.Identity.UserID,
		SelfName:           cfg.Identity.Name,
		Policy:             a.policy,
		NewPeer:            call.NewPionFactory(cfg.Call.ICEServers),
		NewMedia:           call.NewSampleMedia,
		NegotiationTimeout: time.Duration(cfg.Call.NegotiationTimeoutSec) * time.Second,
	})
	defer a.Calls.Close()
	a.Calls.OnEvent(func(ev call.Event) {
		if ev.State == call.StateFailed {
			a.notifyLocal(notify.CallFailedEvent(cfg.Identity.UserID, ev.RemoteID, ev.Err))
		}
	})

	if a.Notify != nil {
		a.Notify.Attach(a.Channel)
		defer a.Notify.Detach()
	}

	// Persist family alerts arriving over the relay.
	cancelAlerts := a.recordAlerts()
	defer cancelAlerts()

	if cfg.Paths.ZoneFile != "" {
		path := util.ResolvePath(a.deviceDir, cfg.Paths.ZoneFile)
		if err := geofence.WatchZoneFile(ctx, path, a.Engine); err != nil {
			log.Printf("GEO: zone watch: %v", err)
		}
	}

	if a.Source != nil {
		if err := a.Source.Start(ctx); err != nil {
			return fmt.Errorf("start tracking: %w", err)
		}
		defer a.Source.Stop()
		go a.pumpSamples(ctx)
		go a.pumpErrors(ctx)
	}

	var srv *http.Server
	if cfg.API.Addr != "" {
		handler := api.NewHandler(a.DB, a.Channel, a.Geocode, cfg.Track.LowBatteryPct)
		srv = &http.Server{Addr: cfg.API.Addr, Handler: api.NewRouter(handler)}
		go func() {
			log.Printf("APP: api listening on %s", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("APP: api server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Printf("APP: shutting down")

	// Best-effort teardown. The channel may already be gone.
	a.Channel.Send(realtime.TopicMemberStatus, realtime.MemberStatusPayload{
		UserID: cfg.Identity.UserID,
		Online: false,
	})
	if a.beacon != nil && a.Source != nil {
		if last, ok := a.Source.Last(); ok {
			a.beacon.Flush(last)
		}
	}
	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		srv.Shutdown(shutCtx)
		cancel()
	}
	a.Channel.Disconnect()
	return a.DB.Close()
}

// Panic broadcasts an emergency alert carrying the last known position.
func (a *App) Panic() error {
	var lat, lon float64
	if a.Source != nil {
		if s, ok := a.Source.Last(); ok {
			lat, lon = s.Latitude, s.Longitude
		}
	}
	p := realtime.PanicAlertPayload{
		UserID:    a.cfg.Identity.UserID,
		UserName:  a.cfg.Identity.Name,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: time.Now().Unix(),
	}
	a.DB.InsertAlert(storage.AlertRecord{
		Kind:     realtime.TopicPanicAlert,
		UserID:   p.UserID,
		UserName: p.UserName,
	})
	return a.Channel.Send(realtime.TopicPanicAlert, p)
}

// notifyLocal hands a device-local event to the presenter. The relay skips
// the sender, so self events never arrive through Attach.
func (a *App) notifyLocal(ev notify.Event) {
	if a.Notify != nil {
		a.Notify.Dispatch(ev)
	}
}

// pumpSamples drives the distribution path: every fix is stored, broadcast,
// run through the geofence engine and checked for low battery.
func (a *App) pumpSamples(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-a.Source.Samples():
			if !ok {
				return
			}
			a.handleSample(s)
		}
	}
}

func (a *App) handleSample(s track.Sample) {
	cfg := a.cfg

	if err := a.DB.InsertLocation(cfg.Identity.UserID, s); err != nil {
		log.Printf("APP: store location: %v", err)
	}

	if err := a.Channel.Send(realtime.TopicLocationUpdate, realtime.LocationUpdatePayload{
		UserID:       cfg.Identity.UserID,
		UserName:     cfg.Identity.Name,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Accuracy:     s.Accuracy,
		Altitude:     s.Altitude,
		Speed:        s.Speed,
		Heading:      s.Heading,
		BatteryLevel: s.BatteryLevel,
		IsCharging:   s.IsCharging,
		CapturedAt:   s.CapturedAt.UnixMilli(),
	}); err != nil {
		if errors.Is(err, realtime.ErrOffline) {
			log.Printf("TRACK: offline, update dropped")
		} else {
			log.Printf("TRACK: send update: %v", err)
		}
	}

	for _, c := range a.Engine.Evaluate(s) {
		notifyThis := (c.Transition == geofence.Enter && c.Zone.NotifyOnEnter) ||
			(c.Transition == geofence.Exit && c.Zone.NotifyOnExit)
		if !notifyThis {
			continue
		}
		action := realtime.ActionEnter
		if c.Transition == geofence.Exit {
			action = realtime.ActionExit
		}
		log.Printf("GEO: %s zone %q (%.0fm)", action, c.Zone.Name, c.Distance)
		a.DB.InsertAlert(storage.AlertRecord{
			Kind:     realtime.TopicGeofenceAlert,
			UserID:   cfg.Identity.UserID,
			UserName: cfg.Identity.Name,
			ZoneID:   c.Zone.ID,
			ZoneName: c.Zone.Name,
			Action:   action,
		})
		a.Channel.Send(realtime.TopicGeofenceAlert, realtime.GeofenceAlertPayload{
			UserID:    cfg.Identity.UserID,
			UserName:  cfg.Identity.Name,
			ZoneID:    c.Zone.ID,
			ZoneName:  c.Zone.Name,
			Action:    action,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: time.Now().Unix(),
		})
		// The relay never echoes to the sender, so the local presenter
		// gets the event directly.
		a.notifyLocal(notify.GeofenceEvent(cfg.Identity.UserID, cfg.Identity.Name, action, c.Zone.Name))
	}

	threshold := cfg.Track.LowBatteryPct
	if threshold > 0 && s.BatteryLevel >= 0 {
		low := s.BatteryLevel <= threshold && !s.IsCharging
		if low && !a.lowBattery {
			log.Printf("TRACK: battery low (%d%%)", s.BatteryLevel)
			a.DB.InsertAlert(storage.AlertRecord{
				Kind:     realtime.TopicBatteryAlert,
				UserID:   cfg.Identity.UserID,
				UserName: cfg.Identity.Name,
			})
			a.Channel.Send(realtime.TopicBatteryAlert, realtime.BatteryAlertPayload{
				UserID:   cfg.Identity.UserID,
				UserName: cfg.Identity.Name,
				Level:    s.BatteryLevel,
			})
			a.notifyLocal(notify.BatteryEvent(cfg.Identity.UserID, cfg.Identity.Name, s.BatteryLevel))
		}
		a.lowBattery = low
	}
}

func (a *App) pumpErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-a.Source.Errors():
			if !ok {
				return
			}
			if errors.Is(err, track.ErrPermissionDenied) {
				log.Printf("TRACK: permission denied, tracking halted")
				a.notifyLocal(notify.TrackingHaltedEvent(a.cfg.Identity.UserID))
			} else {
				log.Printf("TRACK: %v", err)
			}
		}
	}
}

// recordAlerts persists remote members' alerts to the local log.
func (a *App) recordAlerts() func() {
	cancelGeo := a.Channel.OnMessage(realtime.TopicGeofenceAlert, func(env realtime.Envelope) {
		var p realtime.GeofenceAlertPayload
		if env.Decode(&p) != nil || p.UserID == a.cfg.Identity.UserID {
			return
		}
		a.DB.InsertAlert(storage.AlertRecord{
			Kind: realtime.TopicGeofenceAlert, UserID: p.UserID, UserName: p.UserName,
			ZoneID: p.ZoneID, ZoneName: p.ZoneName, Action: p.Action,
		})
	})
	cancelPanic := a.Channel.OnMessage(realtime.TopicPanicAlert, func(env realtime.Envelope) {
		var p realtime.PanicAlertPayload
		if env.Decode(&p) != nil || p.UserID == a.cfg.Identity.UserID {
			return
		}
		a.DB.InsertAlert(storage.AlertRecord{
			Kind: realtime.TopicPanicAlert, UserID: p.UserID, UserName: p.UserName,
		})
	})
	return func() {
		cancelGeo()
		cancelPanic()
	}
}

// Run assembles and runs the device runtime in one call.
func Run(ctx context.Context, opt Options) error {
	a, err := New(opt)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
