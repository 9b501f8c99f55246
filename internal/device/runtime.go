// Package device is the cooperative scheduler that binds the parameter
// stores, the mode machine, the request dispatcher, the upload service and
// the application together. Everything in it runs on one goroutine.
package device

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/iot-module/internal/metrics"
	"github.com/sweeney/iot-module/internal/mode"
	"github.com/sweeney/iot-module/internal/mqtt"
	"github.com/sweeney/iot-module/internal/ota"
	"github.com/sweeney/iot-module/internal/param"
	"github.com/sweeney/iot-module/internal/status"
	"github.com/sweeney/iot-module/internal/web"
)

// Framework state names.
const (
	StateHostname    = "Module host name"
	StateFirmware    = "Firmware update"
	StateUptime      = "Uptime"
	StateBootID      = "Boot ID"
	StateMaintenance = "Maintenance mode"
	StateNetwork     = "Network"
	StateMQTT        = "MQTT connected"
)

// App is the application module run by the scheduler.
type App interface {
	// Setup registers the application's state and settings.
	Setup(state, settings *param.Store) error

	// Loop does one iteration of work. It is not called during a
	// maintenance window.
	Loop(now time.Time)

	// RefreshState brings state values up to date before they are read.
	RefreshState()
}

// Options configure a Runtime.
type Options struct {
	Hostname  string
	Firmware  string // build string shown as "Firmware update"
	BootID    string
	Heartbeat time.Duration // 0 disables heartbeats

	// Now defaults to time.Now.
	Now func() time.Time

	// Sleep replaces the pause between upload servicing rounds. Tests only.
	Sleep func(ctx context.Context, d time.Duration) error

	// Network, if set, reports host network state for the "Network" value.
	Network func() *status.NetworkInfo
}

// Runtime is the composition root. It is not safe for concurrent use; all
// methods must be called from the loop goroutine.
type Runtime struct {
	State    *param.Store
	Settings *param.Store
	Mode     *mode.Machine

	dispatcher *web.Dispatcher
	uploads    ota.Service
	publisher  mqtt.Publisher
	restarter  Restarter
	app        App
	opts       Options
	now        func() time.Time

	started       time.Time
	lastHeartbeat time.Time
	resetPending  bool
	lastPercent   int64

	stUptime      param.Handle
	stMaintenance param.Handle
	stNetwork     param.Handle
	stMQTT        param.Handle
	hasNetwork    bool
	mqttStatus    mqtt.ConnectionStatus
}

// New creates a Runtime. Call Setup before Iterate or Run.
func New(app App, dispatcher *web.Dispatcher, uploads ota.Service, publisher mqtt.Publisher, restarter Restarter, opts Options) *Runtime {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rt := &Runtime{
		State:      param.NewStore(),
		Settings:   param.NewStore(),
		dispatcher: dispatcher,
		uploads:    uploads,
		publisher:  publisher,
		restarter:  restarter,
		app:        app,
		opts:       opts,
		now:        now,
	}
	rt.Mode = mode.NewMachine(uploads, now)
	if opts.Sleep != nil {
		rt.Mode.Sleep = opts.Sleep
	}
	rt.Mode.OnEnter = rt.maintenanceStarted
	rt.Mode.OnExit = rt.maintenanceEnded
	if cs, ok := publisher.(mqtt.ConnectionStatus); ok {
		rt.mqttStatus = cs
	}
	return rt
}

// Setup registers framework state, routes and upload callbacks, then
// sets up the application.
func (rt *Runtime) Setup() error {
	rt.started = rt.now()
	rt.lastHeartbeat = rt.started

	rt.State.Add(StateHostname, param.Text(rt.opts.Hostname))
	rt.State.Add(StateFirmware, param.Text(rt.opts.Firmware))
	rt.stUptime = rt.State.Add(StateUptime, param.Text(""))
	rt.State.Add(StateBootID, param.Text(rt.opts.BootID))
	rt.stMaintenance = rt.State.Add(StateMaintenance, param.Bool(false))
	if rt.opts.Network != nil {
		rt.stNetwork = rt.State.Add(StateNetwork, param.Text(""))
		rt.hasNetwork = true
	}
	if rt.mqttStatus != nil {
		rt.stMQTT = rt.State.Add(StateMQTT, param.Bool(false))
	}

	rt.registerRoutes()
	rt.uploads.SetCallbacks(rt.uploadCallbacks())

	if err := rt.app.Setup(rt.State, rt.Settings); err != nil {
		return fmt.Errorf("app setup: %w", err)
	}
	rt.refreshState()
	return nil
}

// Iterate runs one scheduler iteration: serve queued requests, restart if
// asked to, advance the mode machine (which blocks for the length of a
// maintenance window) and, in normal mode, run the application. The only
// error returned is the context's.
func (rt *Runtime) Iterate(ctx context.Context) error {
	metrics.ObserveIteration()

	rt.dispatcher.HandleClient()

	if rt.resetPending {
		rt.resetPending = false
		rt.restart()
	}

	if err := rt.Mode.Advance(ctx); err != nil {
		return err
	}

	if rt.Mode.State() != mode.Normal {
		return nil
	}
	now := rt.now()
	rt.app.Loop(now)
	rt.heartbeatIfDue(now)
	return nil
}

// Run calls Iterate on every tick until ctx is done.
func (rt *Runtime) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := rt.Iterate(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// PublishStatus publishes a system event carrying the full status document.
func (rt *Runtime) PublishStatus(event, reason string, retained bool) {
	rt.refreshState()
	now := rt.now()
	payload, err := status.FormatStatusEvent(rt.State, rt.Settings, event, reason, rt.Mode.State().String(), now)
	if err != nil {
		log.Printf("device: format %s event: %v", event, err)
		metrics.ObservePublishError("system")
		return
	}
	rt.publishSystem(mqtt.SystemEvent{
		Timestamp:  now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: payload,
	})
}

func (rt *Runtime) refreshState() {
	rt.State.At(rt.stUptime).SetText(status.FormatUptime(rt.now().Sub(rt.started)))
	if rt.hasNetwork {
		summary := "unknown"
		if n := rt.opts.Network(); n != nil {
			summary = n.Summary()
		}
		rt.State.At(rt.stNetwork).SetText(summary)
	}
	if rt.mqttStatus != nil {
		rt.State.At(rt.stMQTT).SetBool(rt.mqttStatus.IsConnected())
	}
	rt.app.RefreshState()
}

func (rt *Runtime) heartbeatIfDue(now time.Time) {
	if rt.opts.Heartbeat <= 0 || now.Sub(rt.lastHeartbeat) < rt.opts.Heartbeat {
		return
	}
	rt.lastHeartbeat = now
	log.Printf("heartbeat: uptime=%s", status.FormatUptime(now.Sub(rt.started)))
	rt.PublishStatus("HEARTBEAT", "", false)
}

func (rt *Runtime) restart() {
	log.Printf("device: restarting")
	rt.PublishStatus("SHUTDOWN", "reset", true)
	if err := rt.restarter.Restart(); err != nil {
		log.Printf("device: restart failed: %v", err)
	}
}

func (rt *Runtime) publishSystem(event mqtt.SystemEvent) {
	if err := rt.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", event.Event, err)
		metrics.ObservePublishError("system")
	}
}

func (rt *Runtime) maintenanceStarted(deadline time.Time) {
	log.Printf("mode: maintenance window open until %s", deadline.Format(time.TimeOnly))
	metrics.SetMaintenance(true)
	rt.State.At(rt.stMaintenance).SetBool(true)
	rt.lastPercent = -1
	rt.publishSystem(mqtt.SystemEvent{Timestamp: rt.now(), Event: "MAINTENANCE_START"})
}

func (rt *Runtime) maintenanceEnded(outcome mode.Outcome, waited time.Duration) {
	log.Printf("mode: maintenance window closed (%s after %s)", outcome, waited.Round(time.Millisecond))
	metrics.SetMaintenance(false)
	metrics.ObserveWindow(string(outcome))
	rt.State.At(rt.stMaintenance).SetBool(false)
	rt.publishSystem(mqtt.SystemEvent{Timestamp: rt.now(), Event: "MAINTENANCE_END", Reason: string(outcome)})
}

func (rt *Runtime) uploadCallbacks() ota.Callbacks {
	return ota.Callbacks{
		OnStart: func(ota.Command) {
			rt.lastPercent = -1
		},
		OnProgress: func(done, total int64) {
			if total <= 0 {
				return
			}
			pct := done * 100 / total
			// Log every 10%
			if step := pct / 10 * 10; step > rt.lastPercent {
				rt.lastPercent = step
				log.Printf("ota: upload %d%%", step)
			}
		},
		OnError: func(err *ota.Error) {
			metrics.ObserveUploadError(err.Kind.Label())
			rt.publishSystem(mqtt.SystemEvent{Timestamp: rt.now(), Event: "UPLOAD_ERROR", Reason: err.Kind.String()})
		},
		OnEnd: func() {
			metrics.ObserveUploadCompleted()
			rt.Mode.Complete()
		},
	}
}
