package ota

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPort is the conventional upload port.
const DefaultPort = 8266

// AuthHeader carries the MD5 hex digest of the upload secret.
const AuthHeader = "X-Upload-Auth"

// ChecksumHeader optionally carries the MD5 hex digest of the image.
const ChecksumHeader = "X-Upload-MD5"

const chunkSize = 4096

// readHeaderTimeout bounds how long a connection may take to send its
// request headers.
const readHeaderTimeout = 10 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// FirmwarePath receives flash images.
	FirmwarePath string
	// FilesystemPath receives filesystem images.
	FilesystemPath string
	// PasswordMD5 is the MD5 hex digest of the upload secret. Empty disables authentication.
	PasswordMD5 string
	// AcceptTimeout bounds how long a request waits for the loop to pick it up.
	AcceptTimeout time.Duration
}

// Server accepts uploads over HTTP: POST /upload?command=flash|filesystem
// with the image as the request body.
type Server struct {
	httpServer   *http.Server
	cfg          ServerConfig
	sessions     chan *session
	authFailures *rate.Limiter
	cb           Callbacks
}

type session struct {
	w    http.ResponseWriter
	r    *http.Request
	done chan struct{}
}

// NewServer creates an upload server listening on addr.
func NewServer(addr string, cfg ServerConfig) *Server {
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		sessions: make(chan *session),
		// Three failed authentications, then one attempt every ten seconds
		authFailures: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetCallbacks installs the lifecycle callbacks. Call before the first Handle.
func (s *Server) SetCallbacks(cb Callbacks) {
	s.cb = cb
}

// Handle runs at most one waiting upload session. The session ends when
// the upload finishes or fails, or when ctx is done, whichever is first.
func (s *Server) Handle(ctx context.Context) {
	select {
	case sess := <-s.sessions:
		s.run(ctx, sess)
		close(sess.done)
	default:
	}
}

// handleUpload runs on a server goroutine. It only hands the request over
// to the loop and waits; the session itself runs inside Handle.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.PasswordMD5 != "" && s.authFailures.Tokens() < 1 {
		http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
		return
	}

	sess := &session{w: w, r: r, done: make(chan struct{})}
	timer := time.NewTimer(s.cfg.AcceptTimeout)
	defer timer.Stop()

	select {
	case s.sessions <- sess:
	case <-timer.C:
		http.Error(w, "not in firmware update mode", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	<-sess.done
}

func (s *Server) run(ctx context.Context, sess *session) {
	w, r := sess.w, sess.r

	if !s.authorized(r) {
		s.authFailures.Allow()
		s.reject(w, http.StatusUnauthorized, &Error{Kind: ErrAuth})
		return
	}

	cmd, err := parseCommand(r.URL.Query().Get("command"))
	if err != nil {
		s.reject(w, http.StatusBadRequest, &Error{Kind: ErrBegin, Err: err})
		return
	}
	dest := s.cfg.FirmwarePath
	if cmd == CommandFilesystem {
		dest = s.cfg.FilesystemPath
	}
	if dest == "" {
		s.reject(w, http.StatusBadRequest, &Error{Kind: ErrBegin, Err: fmt.Errorf("no destination for %s images", cmd)})
		return
	}

	total := r.ContentLength
	if total <= 0 {
		s.reject(w, http.StatusLengthRequired, &Error{Kind: ErrConnect, Err: errors.New("missing content length")})
		return
	}

	log.Printf("ota: start updating %s (%d bytes)", cmd, total)
	s.cb.start(cmd)

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		s.reject(w, http.StatusInternalServerError, &Error{Kind: ErrBegin, Err: fmt.Errorf("create temp file: %w", err)})
		return
	}
	defer os.Remove(tmp.Name())

	stop := bindReadDeadline(ctx, w)
	defer stop()

	sum := md5.New()
	done, err := s.receive(io.MultiWriter(tmp, sum), r.Body, total)
	if err != nil {
		tmp.Close()
		s.reject(w, http.StatusBadRequest, &Error{Kind: ErrReceive, Err: err})
		return
	}
	if done != total {
		tmp.Close()
		s.reject(w, http.StatusBadRequest, &Error{Kind: ErrReceive, Err: fmt.Errorf("short body: got %d of %d bytes", done, total)})
		return
	}

	if want := r.Header.Get(ChecksumHeader); want != "" {
		if got := hex.EncodeToString(sum.Sum(nil)); !strings.EqualFold(got, want) {
			tmp.Close()
			s.reject(w, http.StatusBadRequest, &Error{Kind: ErrEnd, Err: fmt.Errorf("checksum mismatch: got %s, want %s", got, want)})
			return
		}
	}

	if err := tmp.Close(); err != nil {
		s.reject(w, http.StatusInternalServerError, &Error{Kind: ErrEnd, Err: fmt.Errorf("close temp file: %w", err)})
		return
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		s.reject(w, http.StatusInternalServerError, &Error{Kind: ErrEnd, Err: fmt.Errorf("install image: %w", err)})
		return
	}

	log.Printf("ota: upload finished, %s written to %s", cmd, dest)
	s.cb.end()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// receive copies the body in chunks, reporting progress after each one.
// It never reads more than total bytes.
func (s *Server) receive(dst io.Writer, body io.Reader, total int64) (int64, error) {
	buf := make([]byte, chunkSize)
	src := io.LimitReader(body, total)
	var done int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, fmt.Errorf("write image: %w", werr)
			}
			done += int64(n)
			s.cb.progress(done, total)
		}
		if errors.Is(err, io.EOF) {
			return done, nil
		}
		if err != nil {
			return done, fmt.Errorf("read body: %w", err)
		}
	}
}

// bindReadDeadline makes body reads on w's connection fail once ctx is
// done. The returned func releases the binding and must be called before
// the handler returns.
func bindReadDeadline(ctx context.Context, w http.ResponseWriter) func() {
	rc := http.NewResponseController(w)
	if dl, ok := ctx.Deadline(); ok {
		if err := rc.SetReadDeadline(dl); err != nil {
			log.Printf("ota: set read deadline: %v", err)
		}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		// Unblocks a read that is already waiting on the connection
		rc.SetReadDeadline(time.Now())
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.PasswordMD5 == "" {
		return true
	}
	got := strings.ToLower(r.Header.Get(AuthHeader))
	want := strings.ToLower(s.cfg.PasswordMD5)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) reject(w http.ResponseWriter, code int, err *Error) {
	log.Printf("ota: error: %v", err)
	s.cb.fail(err)
	http.Error(w, err.Error(), code)
}

func parseCommand(v string) (Command, error) {
	switch Command(v) {
	case "", CommandFlash:
		return CommandFlash, nil
	case CommandFilesystem:
		return CommandFilesystem, nil
	default:
		return "", fmt.Errorf("unknown command %q", v)
	}
}

// HashPassword returns the MD5 hex digest used as PasswordMD5 and AuthHeader.
func HashPassword(secret string) string {
	sum := md5.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}
