package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// BindError is returned when the listener cannot be bound, typically
// because the port is in use. It is fatal and never retried.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

const (
	reloadPath       = "/_yaw/reload"
	reloadScriptPath = "/_yaw/livereload.js"
)

var registerTypes sync.Once

// Server serves the output directory over HTTP for manual verification.
type Server struct {
	Root   string
	Addr   string
	Reload *Hub // nil disables live reload

	mu sync.Mutex
	ln net.Listener
}

// Listen binds the listener. Call Serve with the result.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, &BindError{Addr: s.Addr, Err: err}
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return ln, nil
}

// URL returns the base URL of the bound listener, or "" before Listen.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return "http://" + s.ln.Addr().String() + "/"
}

// Handler returns the HTTP handler: static files from Root, /healthz and,
// when live reload is on, the reload socket and script.
func (s *Server) Handler() http.Handler {
	registerTypes.Do(func() {
		// Browsers refuse streaming compilation without the exact type.
		mime.AddExtensionType(".wasm", "application/wasm")
		mime.AddExtensionType(".js", "text/javascript; charset=utf-8")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	static := http.FileServer(http.Dir(s.Root))
	if s.Reload != nil {
		mux.Handle(reloadPath, s.Reload)
		mux.HandleFunc(reloadScriptPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
			w.Write(liveReloadScript)
		})
		static = injectReload(os.DirFS(s.Root), static)
	}
	mux.Handle("/", gzipMiddleware(static))
	return mux
}

// Serve blocks serving ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	slog.Info("serving", "url", "http://"+ln.Addr().String()+"/", "root", s.Root)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	if s.Reload != nil {
		s.Reload.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// injectReload serves HTML documents with the live-reload script appended
// and hands everything else to next.
func injectReload(fsys fs.FS, next http.Handler) http.Handler {
	tag := []byte(`<script src="` + reloadScriptPath + `"></script>`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		} else if info, err := fs.Stat(fsys, name); err == nil && info.IsDir() {
			name = path.Join(name, "index.html")
		}
		if !strings.HasSuffix(name, ".html") || !fs.ValidPath(name) {
			next.ServeHTTP(w, r)
			return
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if i := bytes.LastIndex(bytes.ToLower(data), []byte("</body>")); i >= 0 {
			data = append(data[:i:i], append(tag, data[i:]...)...)
		} else {
			data = append(data, tag...)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	})
}
