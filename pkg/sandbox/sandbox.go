// Package sandbox owns exactly one container and one bind-mounted
// workspace directory per space, and exposes filesystem and shell
// primitives whose results are always values — no primitive ever panics
// or returns a Go error across the boundary for an execution-level failure
// (missing file, non-zero exit); those become structured {success:false}
// results (spec §4.3 "Failure semantics"). The lifecycle and exec model
// are adapted from the teacher's DockerRunner, which shells out to the
// `docker` CLI rather than the Docker engine SDK.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
)

// sandboxLabelKey tags every container this package creates so orphans
// from a crashed process can be found and reaped.
const (
	sandboxLabelKey = "io.runspace.sandbox"
	sandboxLabelPID = "io.runspace.sandbox.pid"
)

// Status mirrors the sandbox's own internal lifecycle state. An exec that
// cannot be started moves the sandbox to StatusError, after which every
// Exec call fails until Destroy; the filesystem primitives do not consult
// Status and keep operating on the workspace.
type Status int

const (
	StatusCreating Status = iota
	StatusReady
	StatusRunning
	StatusError
	StatusDestroyed
)

// Config configures a new Sandbox (spec §4.3 "Lifecycle").
type Config struct {
	ID               string
	BaseImage        string
	WorkDir          string
	WorkspaceBaseDir string
	Env              []string
	TimeoutMS        int64
	MemoryLimit      string // human size, e.g. "512m"; empty means unlimited
	CPULimit         string // e.g. "1.5"; empty means unlimited
	NetworkEnabled   bool   // NetworkMode is "none" unless the space's policy turns this on
}

// Sandbox owns one container instance and one workspace directory.
type Sandbox struct {
	config      Config
	workspace   string
	containerID string
	status      Status
	mu          sync.Mutex
}

// Create provisions a workspace directory and container per spec §4.3
// steps 1-4: generate a workspace id, ensure the base image is present
// (pulling if missing), create the container with the workspace bind-
// mounted and networking disabled by default, then start it.
func Create(ctx context.Context, cfg Config) (*Sandbox, error) {
	if cfg.ID == "" {
		cfg.ID = generateID()
	}
	if cfg.BaseImage == "" {
		cfg.BaseImage = "alpine:latest"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/workspace"
	}

	cleanupOrphanedContainers(ctx)

	workspace := filepath.Join(cfg.WorkspaceBaseDir, cfg.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	sb := &Sandbox{config: cfg, workspace: workspace, status: StatusCreating}

	if err := sb.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure base image %q: %w", cfg.BaseImage, err)
	}

	if err := sb.startContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	sb.status = StatusReady
	return sb, nil
}

// Attach reconnects to a container a previous process already provisioned
// for cfg.ID, resolving its container id from the deterministic
// "runspace-<id>" container name rather than re-running the create
// sequence. This exists because spacectl is a short-lived CLI process: a
// space outlives the process that created it, so a later invocation must
// be able to operate on it without re-creating anything.
func Attach(ctx context.Context, cfg Config) (*Sandbox, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("attach requires a non-empty space id")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/workspace"
	}

	containerName := "runspace-" + cfg.ID
	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.Id}}", containerName).Output()
	if err != nil {
		return nil, fmt.Errorf("container %q not found: %w", containerName, err)
	}

	sb := &Sandbox{
		config:      cfg,
		workspace:   filepath.Join(cfg.WorkspaceBaseDir, cfg.ID),
		containerID: strings.TrimSpace(string(out)),
		status:      StatusReady,
	}
	return sb, nil
}

// Destroy stops and removes the container, then recursively deletes the
// workspace directory. Idempotent: calling it again after success is a
// no-op.
func (s *Sandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusDestroyed {
		return nil
	}

	if s.containerID != "" {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = exec.CommandContext(stopCtx, "docker", "stop", "-t", "5", s.containerID).Run()
		cancel()
		_ = exec.CommandContext(ctx, "docker", "rm", "-f", s.containerID).Run()
		s.containerID = ""
	}

	if err := os.RemoveAll(s.workspace); err != nil {
		return fmt.Errorf("failed to remove workspace directory: %w", err)
	}

	s.status = StatusDestroyed
	return nil
}

// WorkspacePath returns the host path of the workspace root.
func (s *Sandbox) WorkspacePath() string {
	return s.workspace
}

func (s *Sandbox) startContainer(ctx context.Context) error {
	containerName := "runspace-" + s.config.ID

	networkMode := "none"
	if s.config.NetworkEnabled {
		networkMode = "bridge"
	}

	args := []string{
		"run", "-d",
		"--name", containerName,
		"--network", networkMode,
		"--label", sandboxLabelKey + "=true",
		"--label", fmt.Sprintf("%s=%d", sandboxLabelPID, os.Getpid()),
	}
	if s.config.MemoryLimit != "" {
		args = append(args, "--memory", s.config.MemoryLimit)
	}
	if s.config.CPULimit != "" {
		args = append(args, "--cpus", s.config.CPULimit)
	}
	args = append(args, "-v", fmt.Sprintf("%s:%s", s.workspace, s.config.WorkDir))
	args = append(args, buildEnvFlags(s.config.Env)...)
	args = append(args, "-w", s.config.WorkDir, s.config.BaseImage, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("docker run failed: %w (stderr: %s)", err, stderr.String())
	}

	s.containerID = strings.TrimSpace(string(output))
	return nil
}

// ensureImage checks for the base image locally and pulls it if missing,
// streaming pull progress to the log as it arrives (spec §4.3 step 2).
// The configured reference is validated with go-containerregistry's name
// parser first so a malformed image string fails before any docker
// invocation.
func (s *Sandbox) ensureImage(ctx context.Context) error {
	if _, err := name.ParseReference(s.config.BaseImage); err != nil {
		return fmt.Errorf("invalid image reference: %w", err)
	}

	inspect := exec.CommandContext(ctx, "docker", "image", "inspect", s.config.BaseImage)
	if err := inspect.Run(); err == nil {
		return nil
	}

	pull := exec.CommandContext(ctx, "docker", "pull", s.config.BaseImage)
	stdout, err := pull.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open pull output: %w", err)
	}
	pull.Stderr = pull.Stdout

	if err := pull.Start(); err != nil {
		return fmt.Errorf("failed to start docker pull: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		slog.Info("pulling sandbox image", "image", s.config.BaseImage, "progress", scanner.Text())
	}

	return pull.Wait()
}

func buildEnvFlags(env []string) []string {
	var args []string
	for _, kv := range env {
		idx := strings.IndexByte(kv, '=')
		if idx <= 0 {
			continue
		}
		if !isValidEnvVarName(kv[:idx]) {
			continue
		}
		args = append(args, "-e", kv)
	}
	return args
}

// isValidEnvVarName checks POSIX env var name validity: starts with a
// letter or underscore, then alphanumerics or underscores. Adopted
// verbatim from the teacher's DockerRunner.IsValidEnvVarName.
func isValidEnvVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		valid := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || (i > 0 && c >= '0' && c <= '9')
		if !valid {
			return false
		}
	}
	return true
}

func generateID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanupOrphanedContainers removes sandbox containers left behind by a
// crashed or killed prior process, identified by a PID label (adapted from
// the teacher's cleanupOrphanedSandboxContainers).
func cleanupOrphanedContainers(ctx context.Context) {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-q", "--filter", "label="+sandboxLabelKey).Output()
	if err != nil {
		return
	}

	currentPID := os.Getpid()
	for _, id := range strings.Fields(string(out)) {
		pid := containerOwnerPID(ctx, id)
		if pid == 0 || pid == currentPID || processRunning(pid) {
			continue
		}
		slog.Debug("reaping orphaned sandbox container", "container", id, "pid", pid)
		_ = exec.CommandContext(ctx, "docker", "rm", "-f", id).Run()
	}
}

func containerOwnerPID(ctx context.Context, containerID string) int {
	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f",
		"{{index .Config.Labels \""+sandboxLabelPID+"\"}}", containerID).Output()
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(out)))
	return pid
}

func processRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
