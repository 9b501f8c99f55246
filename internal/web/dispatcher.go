package web

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AnyMethod matches every HTTP method in Dispatcher.On.
const AnyMethod = ""

// DefaultQueueTimeout bounds how long a request waits for the loop.
const DefaultQueueTimeout = 5 * time.Second

// Arg is one request argument.
type Arg struct {
	Name  string
	Value string
}

// Request is the part of an HTTP request handlers see.
type Request struct {
	Method string
	Path   string
	// Args holds query arguments in the order they were sent. Names are case-sensitive.
	Args []Arg
}

// Arg returns the first argument with the given name.
func (r Request) Arg(name string) (string, bool) {
	for _, a := range r.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Response is what a handler returns.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Text returns a text/plain response.
func Text(status int, body string) Response {
	return Response{Status: status, ContentType: "text/plain", Body: []byte(body)}
}

// HTML returns a text/html response.
func HTML(status int, body []byte) Response {
	return Response{Status: status, ContentType: "text/html; charset=utf-8", Body: body}
}

// JSON returns an application/json response.
func JSON(status int, body []byte) Response {
	return Response{Status: status, ContentType: "application/json", Body: body}
}

// NotFound is the default handler for unmatched requests. It echoes the path.
func NotFound(req Request) Response {
	return Text(http.StatusNotFound, "404: Not Found\nURI: "+req.Path)
}

// HandlerFunc handles one request on the loop goroutine.
type HandlerFunc func(req Request) Response

type route struct {
	method  string
	handler HandlerFunc
}

type call struct {
	ctx   context.Context
	req   Request
	reply chan Response
}

// Dispatcher maps paths to handlers. It is an http.Handler, but handlers
// never run on server goroutines: ServeHTTP queues the request and waits,
// and HandleClient runs queued requests on the caller's goroutine. A
// request that is not answered within the queue timeout gets 503.
type Dispatcher struct {
	routes   map[string]route
	notFound HandlerFunc
	pending  chan *call
	timeout  time.Duration

	// OnServed, if set, is called on the loop goroutine after each request.
	OnServed func(req Request, status int)
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultQueueTimeout.
func NewDispatcher(queueTimeout time.Duration) *Dispatcher {
	if queueTimeout <= 0 {
		queueTimeout = DefaultQueueTimeout
	}
	return &Dispatcher{
		routes:   make(map[string]route),
		notFound: NotFound,
		pending:  make(chan *call, 16),
		timeout:  queueTimeout,
	}
}

// On registers h for path. A request with another method is treated as unmatched.
func (d *Dispatcher) On(path, method string, h HandlerFunc) {
	d.routes[path] = route{method: method, handler: h}
}

// OnNotFound replaces the handler for unmatched requests.
func (d *Dispatcher) OnNotFound(h HandlerFunc) {
	d.notFound = h
}

// HandleClient runs every request queued when it was called and returns
// how many ran. Each handler runs to completion before the next starts.
func (d *Dispatcher) HandleClient() int {
	n := len(d.pending)
	served := 0
	for i := 0; i < n; i++ {
		c := <-d.pending
		if c.ctx.Err() != nil {
			// Caller gave up; do not apply its side effects late.
			continue
		}
		resp := d.dispatch(c.req)
		c.reply <- resp
		served++
		if d.OnServed != nil {
			d.OnServed(c.req, resp.Status)
		}
	}
	return served
}

func (d *Dispatcher) dispatch(req Request) Response {
	rt, ok := d.routes[req.Path]
	if !ok || (rt.method != AnyMethod && rt.method != req.Method) {
		return d.notFound(req)
	}
	return rt.handler(req)
}

// ServeHTTP queues r for the loop and writes the handler's response.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
	defer cancel()

	c := &call{
		ctx: ctx,
		req: Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Args:   parseArgs(r.URL.RawQuery),
		},
		reply: make(chan Response, 1),
	}

	select {
	case d.pending <- c:
	case <-ctx.Done():
		unavailable(w, r)
		return
	}

	select {
	case resp := <-c.reply:
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	case <-ctx.Done():
		unavailable(w, r)
	}
}

func unavailable(w http.ResponseWriter, r *http.Request) {
	log.Printf("web: %s %s not serviced in time", r.Method, r.URL.Path)
	http.Error(w, "device busy", http.StatusServiceUnavailable)
}

// parseArgs splits a raw query keeping argument order, which url.Values
// does not. Pairs that fail to unescape are dropped.
func parseArgs(rawQuery string) []Arg {
	if rawQuery == "" {
		return nil
	}
	var args []Arg
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		n, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		args = append(args, Arg{Name: n, Value: v})
	}
	return args
}
