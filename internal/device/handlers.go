package device

import (
	"log"
	"net/http"

	"github.com/sweeney/iot-module/internal/metrics"
	"github.com/sweeney/iot-module/internal/status"
	"github.com/sweeney/iot-module/internal/web"
)

const settingsRedirect = `<head><meta http-equiv="refresh" content="0; url=/state"></head>`

var routePaths = map[string]bool{
	"/":                true,
	"/settings":        true,
	"/state":           true,
	"/firmware_update": true,
	"/reset":           true,
}

func (rt *Runtime) registerRoutes() {
	d := rt.dispatcher
	d.On("/", http.MethodGet, rt.handleIndex)
	d.On("/settings", http.MethodGet, rt.handleSettings)
	d.On("/state", http.MethodGet, rt.handleState)
	d.On("/firmware_update", web.AnyMethod, rt.handleFirmwareUpdate)
	d.On("/reset", web.AnyMethod, rt.handleReset)
	d.OnServed = func(req web.Request, code int) {
		path := req.Path
		if !routePaths[path] || code == http.StatusNotFound {
			path = "unmatched"
		}
		metrics.ObserveRequest(path, code)
	}
}

// handleSettings applies every argument to a setting of the same name.
// Unknown names and unparsable values are skipped.
func (rt *Runtime) handleSettings(req web.Request) web.Response {
	applied := 0
	for _, a := range req.Args {
		if rt.Settings.TrySetFromText(a.Name, a.Value) {
			applied++
		}
	}
	log.Printf("web: settings updated (%d of %d applied)", applied, len(req.Args))
	return web.HTML(http.StatusOK, []byte(settingsRedirect))
}

func (rt *Runtime) handleState(web.Request) web.Response {
	rt.refreshState()
	return web.JSON(http.StatusOK, status.Document(rt.State, rt.Settings))
}

func (rt *Runtime) handleFirmwareUpdate(web.Request) web.Response {
	rt.Mode.Trigger()
	return web.Text(http.StatusOK, "Firmware update mode started...")
}

// handleReset restarts the process once the current drain finishes.
func (rt *Runtime) handleReset(web.Request) web.Response {
	rt.resetPending = true
	return web.Text(http.StatusOK, "Restarting...")
}

func (rt *Runtime) handleIndex(web.Request) web.Response {
	rt.refreshState()
	page, err := web.RenderIndex(web.Page{
		Title:    rt.opts.Hostname,
		State:    rt.State.Entries(),
		Settings: rt.Settings.Entries(),
	})
	if err != nil {
		log.Printf("web: render index: %v", err)
		return web.Text(http.StatusInternalServerError, "internal error")
	}
	return web.HTML(http.StatusOK, page)
}
