// Package presence is the motion sensor application: it debounces a PIR
// input line and publishes motion start and end events.
package presence

import (
	"log"
	"time"

	"github.com/sweeney/iot-module/internal/gpio"
	"github.com/sweeney/iot-module/internal/logic"
	"github.com/sweeney/iot-module/internal/metrics"
	"github.com/sweeney/iot-module/internal/mqtt"
	"github.com/sweeney/iot-module/internal/param"
)

// Setting and state names.
const (
	SettingHold    = "Motion hold ms"
	SettingEnabled = "Sensor enabled"

	StateMotion = "Motion"
	StateEvents = "Motion events"
	StateLast   = "Last motion"
)

// Event types published on the events topic.
const (
	EventMotionStart = "MOTION_START"
	EventMotionEnd   = "MOTION_END"
)

// Source is the event source name.
const Source = "motion"

// App reads and debounces the motion sensor.
type App struct {
	reader    gpio.Reader
	publisher mqtt.Publisher
	hold      time.Duration

	channel logic.Channel
	events  int
	last    time.Time

	settings *param.Store
	state    *param.Store
	sHold    param.Handle
	sEnabled param.Handle
	stMotion param.Handle
	stEvents param.Handle
	stLast   param.Handle
}

// New creates the app. hold is the initial "Motion hold ms" value.
func New(reader gpio.Reader, publisher mqtt.Publisher, hold time.Duration) *App {
	return &App{reader: reader, publisher: publisher, hold: hold}
}

// Setup registers the sensor settings and state.
func (a *App) Setup(state, settings *param.Store) error {
	a.state = state
	a.settings = settings

	a.sHold = settings.Add(SettingHold, param.Int(int(a.hold/time.Millisecond)))
	a.sEnabled = settings.Add(SettingEnabled, param.Bool(true))

	a.stMotion = state.Add(StateMotion, param.Bool(false))
	a.stEvents = state.Add(StateEvents, param.Int(0))
	a.stLast = state.Add(StateLast, param.Text(""))
	return nil
}

// Loop samples the sensor once.
func (a *App) Loop(now time.Time) {
	enabled, _ := a.settings.At(a.sEnabled).AsBool()
	if !enabled {
		wasActive := a.channel.Confirmed()
		a.channel = logic.Channel{}
		if wasActive {
			a.emit(EventMotionEnd, false, now)
		}
		return
	}

	sample, err := a.reader.Read()
	if err != nil {
		log.Printf("gpio read error: %v", err)
		return
	}

	_, edge := a.channel.Process(sample, a.holdSetting(), now)
	switch edge {
	case logic.EdgeRise:
		a.events++
		a.last = now
		a.emit(EventMotionStart, true, now)
	case logic.EdgeFall:
		a.emit(EventMotionEnd, false, now)
	}
}

// RefreshState copies the current sensor view into the state store.
func (a *App) RefreshState() {
	a.state.At(a.stMotion).SetBool(a.channel.Confirmed())
	a.state.At(a.stEvents).SetInt(a.events)
	if !a.last.IsZero() {
		a.state.At(a.stLast).SetText(a.last.UTC().Format(time.RFC3339))
	}
}

func (a *App) holdSetting() time.Duration {
	ms, ok := a.settings.At(a.sHold).AsInt()
	if !ok || ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (a *App) emit(typ string, value bool, now time.Time) {
	log.Printf("event: %s", typ)
	a.RefreshState()
	event := mqtt.Event{Timestamp: now, Source: Source, Type: typ, Value: value}
	if err := a.publisher.Publish(event); err != nil {
		log.Printf("publish error: %v", err)
		metrics.ObservePublishError("event")
	}
}
