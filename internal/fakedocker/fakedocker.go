// Package fakedocker is a stand-in Docker daemon on a Unix socket. It
// implements the slice of the Engine API the containerised toolchain runner
// uses (ping, image pull, container create/start/logs/wait/remove), so the
// real SDK client can be exercised without a Docker installation.
//
// Starting a container runs an Exec function in the host directory
// bind-mounted at the container's working directory. The default Exec is
// the mock compiler.
package fakedocker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yawgame/webrelease/internal/toolchain/mock"
)

// APIVersion is reported by /_ping for client version negotiation.
const APIVersion = "1.47"

// Exec runs a container command. dir is the host side of the working
// directory mount; env is the container environment.
type Exec func(args []string, dir string, env []string, stdout, stderr io.Writer) int

// MockCompiler runs the mock compiler, ignoring args[0] (the command name).
func MockCompiler(args []string, dir string, env []string, stdout, stderr io.Writer) int {
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	if len(args) > 0 {
		args = args[1:]
	}
	return mock.Run(args, dir, func(k string) string { return vars[k] }, stdout, stderr)
}

type mountJSON struct {
	Type   string `json:"Type"`
	Source string `json:"Source"`
	Target string `json:"Target"`
}

type createRequest struct {
	Image      string   `json:"Image"`
	Cmd        []string `json:"Cmd"`
	Env        []string `json:"Env"`
	WorkingDir string   `json:"WorkingDir"`
	User       string   `json:"User"`
	HostConfig struct {
		Mounts []mountJSON `json:"Mounts"`
	} `json:"HostConfig"`
}

// Container is the daemon's record of a created container.
type Container struct {
	ID       string
	Image    string
	Cmd      []string
	Env      []string
	User     string
	Dir      string // host directory mounted at the working directory
	Started  bool
	Removed  bool
	ExitCode int

	logs []byte // stdcopy-framed output
}

// Daemon is a running fake daemon.
type Daemon struct {
	Socket string

	mu         sync.Mutex
	exec       Exec
	images     map[string]bool
	containers map[string]*Container
	pulls      int
	nextID     int

	tmpDir   string
	listener net.Listener
	server   *http.Server
}

// Start listens on a fresh socket under the temp directory. images are
// treated as already present; anything else must be pulled first.
func Start(images ...string) (*Daemon, error) {
	tmpDir, err := os.MkdirTemp("", "yaw-docker-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	d, err := StartOnSocket(filepath.Join(tmpDir, "docker.sock"), images...)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	d.tmpDir = tmpDir
	return d, nil
}

// StartOnSocket listens on socketPath.
func StartOnSocket(socketPath string, images ...string) (*Daemon, error) {
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}

	d := &Daemon{
		Socket:     socketPath,
		exec:       MockCompiler,
		images:     make(map[string]bool),
		containers: make(map[string]*Container),
		listener:   listener,
	}
	for _, img := range images {
		d.images[normalizeImage(img)] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /_ping", d.handlePing)
	mux.HandleFunc("GET /_ping", d.handlePing)
	mux.HandleFunc("POST /images/create", d.handleImagePull)
	mux.HandleFunc("POST /containers/create", d.handleContainerCreate)
	mux.HandleFunc("POST /containers/{id}/start", d.handleContainerStart)
	mux.HandleFunc("GET /containers/{id}/logs", d.handleContainerLogs)
	mux.HandleFunc("POST /containers/{id}/wait", d.handleContainerWait)
	mux.HandleFunc("DELETE /containers/{id}", d.handleContainerRemove)

	d.server = &http.Server{Handler: stripVersionPrefix(mux)}
	go func() {
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("fake daemon serve", "err", err)
		}
	}()
	return d, nil
}

// Host returns the DOCKER_HOST value for the daemon.
func (d *Daemon) Host() string {
	return "unix://" + d.Socket
}

// Close stops the daemon and removes its socket directory.
func (d *Daemon) Close() error {
	err := d.server.Close()
	d.listener.Close()
	if d.tmpDir != "" {
		os.RemoveAll(d.tmpDir)
	}
	return err
}

// SetExec replaces what started containers run.
func (d *Daemon) SetExec(fn Exec) {
	d.mu.Lock()
	d.exec = fn
	d.mu.Unlock()
}

// Pulls returns how many image pulls were served.
func (d *Daemon) Pulls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulls
}

// Containers returns a snapshot of every container created so far.
func (d *Daemon) Containers() []Container {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Container, 0, len(d.containers))
	for i := 1; i <= d.nextID; i++ {
		if c, ok := d.containers[containerID(i)]; ok {
			out = append(out, Container{
				ID: c.ID, Image: c.Image, Cmd: c.Cmd, Env: c.Env, User: c.User,
				Dir: c.Dir, Started: c.Started, Removed: c.Removed, ExitCode: c.ExitCode,
			})
		}
	}
	return out
}

func containerID(n int) string {
	return fmt.Sprintf("%064x", n)
}

// normalizeImage reduces a reference to its familiar name:tag form.
func normalizeImage(ref string) string {
	ref = strings.TrimPrefix(ref, "docker.io/")
	ref = strings.TrimPrefix(ref, "library/")
	if i := strings.LastIndexByte(ref, ':'); i < 0 || strings.Contains(ref[i:], "/") {
		ref += ":latest"
	}
	return ref
}

// stripVersionPrefix removes the /v1.xx prefix the SDK puts on every path.
func stripVersionPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) > 2 && path[0] == '/' && path[1] == 'v' {
			if idx := strings.IndexByte(path[2:], '/'); idx >= 0 {
				r.URL.Path = path[2+idx:]
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (d *Daemon) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Api-Version", APIVersion)
	w.Header().Set("Ostype", "linux")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (d *Daemon) handleImagePull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("fromImage")
	if tag := q.Get("tag"); tag != "" {
		ref += ":" + tag
	}
	ref = normalizeImage(ref)

	d.mu.Lock()
	d.images[ref] = true
	d.pulls++
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.Encode(map[string]string{"status": "Pulling from " + ref})
	enc.Encode(map[string]string{"status": "Downloaded newer image for " + ref})
}

func (d *Daemon) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode create request: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.images[normalizeImage(req.Image)] {
		writeError(w, http.StatusNotFound, "No such image: %s", req.Image)
		return
	}

	var dir string
	for _, m := range req.HostConfig.Mounts {
		if m.Type == "bind" && m.Target == req.WorkingDir {
			dir = m.Source
		}
	}
	if dir == "" {
		writeError(w, http.StatusBadRequest, "working directory %q is not a bind mount", req.WorkingDir)
		return
	}

	d.nextID++
	c := &Container{
		ID:    containerID(d.nextID),
		Image: req.Image,
		Cmd:   req.Cmd,
		Env:   req.Env,
		User:  req.User,
		Dir:   dir,
	}
	d.containers[c.ID] = c
	writeJSON(w, http.StatusCreated, map[string]any{"Id": c.ID, "Warnings": []string{}})
}

func (d *Daemon) container(w http.ResponseWriter, r *http.Request) *Container {
	d.mu.Lock()
	c, ok := d.containers[r.PathValue("id")]
	d.mu.Unlock()
	if !ok || c.Removed {
		writeError(w, http.StatusNotFound, "No such container: %s", r.PathValue("id"))
		return nil
	}
	return c
}

// handleContainerStart runs the command to completion before replying, so
// logs and wait always see a finished container.
func (d *Daemon) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	c := d.container(w, r)
	if c == nil {
		return
	}

	d.mu.Lock()
	exec := d.exec
	d.mu.Unlock()

	var logs bytes.Buffer
	stdout := &frameWriter{w: &logs, stream: 1}
	stderr := &frameWriter{w: &logs, stream: 2}
	code := exec(c.Cmd, c.Dir, c.Env, stdout, stderr)

	d.mu.Lock()
	c.Started = true
	c.ExitCode = code
	c.logs = logs.Bytes()
	d.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	c := d.container(w, r)
	if c == nil {
		return
	}
	d.mu.Lock()
	data := c.logs
	d.mu.Unlock()

	// Non-TTY containers multiplex stdout/stderr.
	w.Header().Set("Content-Type", "application/vnd.docker.multiplexed-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (d *Daemon) handleContainerWait(w http.ResponseWriter, r *http.Request) {
	c := d.container(w, r)
	if c == nil {
		return
	}
	d.mu.Lock()
	code := c.ExitCode
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"StatusCode": code, "Error": nil})
}

func (d *Daemon) handleContainerRemove(w http.ResponseWriter, r *http.Request) {
	c := d.container(w, r)
	if c == nil {
		return
	}
	d.mu.Lock()
	c.Removed = true
	d.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// frameWriter wraps each write in a stdcopy header:
// [stream(1)][0 0 0][size(4, big-endian)][payload].
type frameWriter struct {
	w      io.Writer
	stream byte
}

func (f *frameWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	header := make([]byte, 8)
	header[0] = f.stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(p)))
	if _, err := f.w.Write(header); err != nil {
		return 0, err
	}
	return f.w.Write(p)
}
