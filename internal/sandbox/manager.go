// Package sandbox implements the Sandbox Manager (C1): lifecycle of
// per-user Docker containers and a streamed exec primitive, with one
// container shared by all of a user's sessions rather than one per session.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentserver/sessionrt/internal/apierr"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const labelManagedBy = "managed-by"
const labelValue = "sessionrt"
const labelUserID = "sessionrt-user-id"

type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusNotFound Status = "not_found"
)

type Info struct {
	UserID      string
	ContainerID string
	Status      Status
}

// Manager owns the userId → containerId cache; the cache is the single
// writer for container identity.
type Manager struct {
	cfg Config
	cli *client.Client
	log zerolog.Logger

	mu         sync.RWMutex
	containers map[string]string // userID -> containerID
}

func NewManager(cfg Config, log zerolog.Logger) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Manager{
		cfg:        cfg,
		cli:        cli,
		log:        log.With().Str("component", "sandbox").Logger(),
		containers: make(map[string]string),
	}, nil
}

func (m *Manager) IsEnabled() bool { return m.cfg.Enabled }

// Available probes the daemon with a bounded 5s budget so a dead or
// unreachable docker daemon fails fast instead of hanging a session open.
func (m *Manager) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := m.cli.Ping(ctx)
	return err == nil
}

func (m *Manager) ImageAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f := filters.NewArgs(filters.Arg("reference", m.cfg.Image))
	imgs, err := m.cli.ImageList(ctx, image.ListOptions{Filters: f})
	if err != nil {
		return false
	}
	return len(imgs) > 0
}

// Ensure implements the three-step idempotent algorithm: reuse a cached
// running container, else find the user's container by its canonical name
// (starting it if stopped), else create one.
func (m *Manager) Ensure(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	cached, ok := m.containers[userID]
	m.mu.RUnlock()
	if ok {
		inspect, err := m.cli.ContainerInspect(ctx, cached)
		if err == nil && inspect.State != nil && inspect.State.Running {
			return cached, nil
		}
	}

	name := m.containerName(userID)
	existing, err := m.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if !existing.State.Running {
			if err := m.cli.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
				return "", apierr.NewSpawnError(fmt.Errorf("start existing container: %w", err))
			}
		}
		m.mu.Lock()
		m.containers[userID] = existing.ID
		m.mu.Unlock()
		return existing.ID, nil
	}

	if !m.Available(ctx) {
		return "", apierr.ErrRuntimeUnavailable
	}
	if !m.ImageAvailable(ctx) {
		return "", apierr.ErrImageMissing
	}

	mounts := []mount.Mount{
		{
			Type:     mount.TypeBind,
			Source:   m.cfg.WorkspacesRoot,
			Target:   m.cfg.ContainerWorkspacesRoot,
			ReadOnly: false,
		},
	}
	if m.cfg.SkillsDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: m.cfg.SkillsDir, Target: m.cfg.SkillsDir, ReadOnly: true})
		for _, dir := range resolveGlobalSkillMounts(m.cfg.SkillsDir, m.log) {
			mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: dir, Target: dir, ReadOnly: true})
		}
	}

	pidsLimit := m.cfg.PidsLimit
	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      m.cfg.Image,
			Labels:     map[string]string{labelManagedBy: labelValue, labelUserID: userID},
			Entrypoint: []string{"sleep", "infinity"},
		},
		&container.HostConfig{
			Mounts:      mounts,
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges"},
			NetworkMode: container.NetworkMode(m.cfg.NetworkMode),
			Resources: container.Resources{
				Memory:    m.cfg.MemoryLimit,
				NanoCPUs:  m.cfg.NanoCPUs,
				PidsLimit: &pidsLimit,
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return "", apierr.NewSpawnError(fmt.Errorf("container create: %w", err))
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", apierr.NewSpawnError(fmt.Errorf("container start: %w", err))
	}

	m.mu.Lock()
	m.containers[userID] = resp.ID
	m.mu.Unlock()
	m.log.Info().Str("user_id", userID).Str("container_id", resp.ID[:12]).Msg("sandbox ensured")
	return resp.ID, nil
}

func (m *Manager) findByName(ctx context.Context, name string) (*container.InspectResponse, error) {
	f := filters.NewArgs(filters.Arg("name", "^/"+name+"$"))
	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("find container by name: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	inspect, err := m.cli.ContainerInspect(ctx, list[0].ID)
	if err != nil {
		return nil, fmt.Errorf("inspect found container: %w", err)
	}
	return &inspect, nil
}

// Remove is idempotent: removing an already-gone container is not an error.
func (m *Manager) Remove(ctx context.Context, userID string) error {
	m.mu.Lock()
	id, ok := m.containers[userID]
	delete(m.containers, userID)
	m.mu.Unlock()
	if !ok {
		name := m.containerName(userID)
		existing, err := m.findByName(ctx, name)
		if err != nil || existing == nil {
			return nil
		}
		id = existing.ID
	}
	m.cli.ContainerStop(ctx, id, container.StopOptions{})
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (m *Manager) List(ctx context.Context) ([]Info, error) {
	f := filters.NewArgs(filters.Arg("label", labelManagedBy+"="+labelValue))
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		status := StatusStopped
		if c.State == "running" {
			status = StatusRunning
		}
		out = append(out, Info{UserID: c.Labels[labelUserID], ContainerID: c.ID, Status: status})
	}
	return out, nil
}

func (m *Manager) RemoveAll(ctx context.Context) error {
	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range list {
		m.cli.ContainerStop(ctx, info.ContainerID, container.StopOptions{})
		m.cli.ContainerRemove(ctx, info.ContainerID, container.RemoveOptions{Force: true})
	}
	m.mu.Lock()
	m.containers = make(map[string]string)
	m.mu.Unlock()
	return nil
}

// Info does not mutate; it reports the cached or discoverable state.
func (m *Manager) Info(ctx context.Context, userID string) (Info, error) {
	m.mu.RLock()
	id, ok := m.containers[userID]
	m.mu.RUnlock()
	if !ok {
		existing, err := m.findByName(ctx, m.containerName(userID))
		if err != nil {
			return Info{}, err
		}
		if existing == nil {
			return Info{UserID: userID, Status: StatusNotFound}, nil
		}
		id = existing.ID
	}
	inspect, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Info{UserID: userID, Status: StatusNotFound}, nil
		}
		return Info{}, fmt.Errorf("inspect container: %w", err)
	}
	status := StatusStopped
	if inspect.State != nil && inspect.State.Running {
		status = StatusRunning
	}
	return Info{UserID: userID, ContainerID: id, Status: status}, nil
}

// Stream identifies which descriptor an exec data chunk came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

type ExecOptions struct {
	OnData  func(stream Stream, data []byte)
	Timeout time.Duration // 0 disables
}

type ExecResult struct {
	ExitCode int
}

// Exec streams a command's stdout/stderr to onData in arrival order,
// guaranteeing onData is invoked before the operation resolves
// (testable property), and honors both a caller timeout and context
// cancellation. The Docker Engine API has no endpoint to signal a running
// exec instance, so the command runs under a one-line shell wrapper that
// drops its own PID into a tmp file before exec-ing the real command
// (exec replaces the shell's image but keeps its PID); a timeout or abort
// kills that PID by running a second, short-lived, detached exec inside
// the same container rather than calling a nonexistent SDK kill.
func (m *Manager) Exec(ctx context.Context, userID, command, hostCwd string, opts ExecOptions) (ExecResult, error) {
	m.mu.RLock()
	containerID, ok := m.containers[userID]
	m.mu.RUnlock()
	if !ok {
		return ExecResult{}, apierr.ErrNoSandbox
	}

	containerCwd := hostCwd
	if rewritten, matched := rewriteWorkspacePrefix(hostCwd, m.cfg.WorkspacesRoot, m.cfg.ContainerWorkspacesRoot); matched {
		containerCwd = rewritten
	} else {
		m.log.Warn().Str("host_cwd", hostCwd).Msg("exec cwd outside workspaces bind mount")
	}

	pidFile := "/tmp/.sessionrt-exec-" + uuid.New().String() + ".pid"
	execResp, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", `echo $$ > "$1"; exec /bin/bash -c "$2"`, "sh", pidFile, command},
		WorkingDir:   containerCwd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, apierr.NewSpawnError(fmt.Errorf("exec create: %w", err))
	}

	attach, err := m.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, apierr.NewSpawnError(fmt.Errorf("exec attach: %w", err))
	}
	defer attach.Close()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timer *time.Timer
	timedOut := make(chan struct{})
	if opts.Timeout > 0 {
		timer = time.AfterFunc(opts.Timeout, func() {
			close(timedOut)
			m.killByPIDFile(containerID, pidFile)
			cancel()
		})
		defer timer.Stop()
	}

	aborted := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-execCtx.Done():
			// execCtx is derived from ctx, so both may be done at once.
			if ctx.Err() == nil {
				return
			}
		}
		close(aborted)
		m.killByPIDFile(containerID, pidFile)
	}()

	copyDone := make(chan error, 1)
	go func() {
		stdout := streamWriter{fn: opts.OnData, stream: Stdout}
		stderr := streamWriter{fn: opts.OnData, stream: Stderr}
		_, copyErr := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-copyDone:
		// the killed command can end the stream before the timeout or abort
		// branch below is chosen.
		select {
		case <-timedOut:
			return ExecResult{}, apierr.NewTimeout(int(opts.Timeout.Seconds()))
		case <-aborted:
			return ExecResult{}, apierr.ErrAborted
		default:
		}
	case <-timedOut:
		<-copyDone
		return ExecResult{}, apierr.NewTimeout(int(opts.Timeout.Seconds()))
	case <-aborted:
		<-copyDone
		return ExecResult{}, apierr.ErrAborted
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}
	return ExecResult{ExitCode: inspect.ExitCode}, nil
}

// killByPIDFile runs a second, detached exec inside containerID that reads
// pidFile and sends SIGKILL to whatever PID it names. Best-effort: the
// original exec's own context is already being torn down, so failures here
// only get logged.
func (m *Manager) killByPIDFile(containerID, pidFile string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd: []string{"/bin/sh", "-c", `if [ -f "$1" ]; then kill -9 "$(cat "$1")" 2>/dev/null; rm -f "$1"; fi`, "sh", pidFile},
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to create kill exec")
		return
	}
	if err := m.cli.ContainerExecStart(ctx, resp.ID, container.ExecStartOptions{}); err != nil {
		m.log.Warn().Err(err).Msg("failed to start kill exec")
	}
}

// streamWriter adapts onData into an io.Writer so stdcopy.StdCopy can
// demultiplex directly into the caller's callback without an intermediate
// buffer, preserving arrival order.
type streamWriter struct {
	fn     func(stream Stream, data []byte)
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	if w.fn != nil {
		cp := make([]byte, len(p))
		copy(cp, p)
		w.fn(w.stream, cp)
	}
	return len(p), nil
}

// rewriteWorkspacePrefix translates a host workspace path to its
// container-side equivalent by rewriting the workspaces-root prefix.
func rewriteWorkspacePrefix(hostPath, workspacesRoot, containerWorkspacesRoot string) (string, bool) {
	if len(hostPath) < len(workspacesRoot) || hostPath[:len(workspacesRoot)] != workspacesRoot {
		return hostPath, false
	}
	return containerWorkspacesRoot + hostPath[len(workspacesRoot):], true
}

// Close releases the underlying Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}
