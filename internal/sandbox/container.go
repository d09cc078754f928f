package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerBackend isolates the agent process inside a Docker container:
// no network (NetworkMode "none" satisfies spec §1's no-network-access
// invariant directly at the runtime level, stronger than a namespace or
// seatbelt deny-rule), a read-only root filesystem, and the workspace
// tiers bind-mounted with the read-only/read-write split of spec §3.
//
// Grounded on the Docker client wiring of this host's sibling examples:
// client.NewClientWithOpts(client.FromEnv, ...), a HostConfig carrying
// NetworkMode/ReadonlyRootfs/Resources, and ContainerCreate/Start/Wait for
// lifecycle, generalized from a pooled "ghost container" runtime to a
// one-shot-per-turn sandboxed agent process.
type ContainerBackend struct {
	Image   string
	Runtime string // e.g. "runsc" for gVisor; "" for the default runtime
}

func NewContainerBackend(image string) *ContainerBackend {
	return &ContainerBackend{Image: image}
}

func (b *ContainerBackend) Name() string {
	if b.Runtime != "" {
		return fmt.Sprintf("container/%s", b.Runtime)
	}
	return "container"
}

func (b *ContainerBackend) IsAvailable(ctx context.Context) bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()
	_, err = cli.Ping(ctx)
	return err == nil
}

func (b *ContainerBackend) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": ""},
		Resources: container.Resources{
			NanoCPUs:   1_000_000_000,
			Memory:     int64(memoryMB(spec.Limits)) * 1024 * 1024,
			PidsLimit:  pidsLimit(spec.Limits),
		},
		Binds: []string{
			spec.Mounts.SharedPath + ":/workspace/agent:ro",
			spec.Mounts.UserPath + ":/workspace/user:rw",
			spec.Mounts.ScratchPath + ":/workspace/scratch:rw",
		},
	}
	if spec.Mounts.DispatcherSock != "" {
		hostConfig.Binds = append(hostConfig.Binds, spec.Mounts.DispatcherSock+":/run/dispatcher.sock:rw")
	}
	if b.Runtime != "" {
		hostConfig.Runtime = b.Runtime
	}

	cmd := append([]string{spec.Command}, spec.Args...)
	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        b.Image,
		Cmd:          cmd,
		Env:          env,
		Tty:          false,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("sandbox: container create: %w", err)
	}

	hijack, err := cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("sandbox: container attach: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		hijack.Close()
		cli.Close()
		return nil, fmt.Errorf("sandbox: container start: %w", err)
	}

	timeout := spec.Limits.Timeout
	if timeout <= 0 {
		timeout = DefaultLimits().Timeout
	}

	// Docker multiplexes stdout/stderr over the single hijacked connection
	// (spec §4.9 stdio contract still wants them separable), so demux with
	// stdcopy into two pipes rather than handing back the raw stream.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, hijack.Reader)
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
	}()

	exited := make(chan struct{})
	proc := &Process{
		Stdin:    hijackStdin{hijack},
		Stdout:   stdoutR,
		Stderr:   stderrR,
		exitCode: make(chan ExitResult, 1),
		kill: func() error {
			select {
			case <-exited:
				return nil
			default:
			}
			killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			timeoutSec := 5
			return cli.ContainerStop(killCtx, resp.ID, container.StopOptions{Timeout: &timeoutSec})
		},
	}

	go func() {
		defer cli.Close()
		defer hijack.Close()
		statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var result ExitResult
		select {
		case <-runCtx.Done():
			cli.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
			result = ExitResult{TimedOut: true, Err: runCtx.Err(), Code: -1}
		case err := <-errCh:
			result = ExitResult{Err: err, Code: -1}
		case status := <-statusCh:
			result = ExitResult{Code: int(status.StatusCode)}
		}
		close(exited)
		proc.exitCode <- result
		cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	return proc, nil
}

func memoryMB(l Limits) int {
	if l.MemoryMB <= 0 {
		return DefaultLimits().MemoryMB
	}
	return l.MemoryMB
}

func pidsLimit(l Limits) *int64 {
	max := int64(l.MaxPIDs)
	if max <= 0 {
		max = int64(DefaultLimits().MaxPIDs)
	}
	return &max
}

// hijackStdin adapts the attach connection's Conn to io.WriteCloser so the
// sandbox manager can write the agent's stdin payload and signal EOF with a
// half-close rather than tearing down the whole hijacked stream.
type hijackStdin struct {
	hijack types.HijackedResponse
}

func (h hijackStdin) Write(p []byte) (int, error) { return h.hijack.Conn.Write(p) }

func (h hijackStdin) Close() error {
	if cw, ok := h.hijack.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return h.hijack.Conn.Close()
}
