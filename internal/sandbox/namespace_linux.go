//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// NamespaceBackend runs the agent process in fresh Linux user, mount, PID,
// network and UTS namespaces, so it has no network access and sees only
// its own process tree. It does not bind-mount the workspace tiers: the
// new mount namespace starts as a copy of the host's, and the process
// runs with the scratch tier as its working directory. Of Spec.Limits
// only Timeout is applied; MemoryMB and MaxPIDs are not enforced here.
type NamespaceBackend struct{}

func NewNamespaceBackend() *NamespaceBackend { return &NamespaceBackend{} }

func (b *NamespaceBackend) Name() string { return "namespace" }

func (b *NamespaceBackend) IsAvailable(ctx context.Context) bool {
	// CLONE_NEWUSER lets an unprivileged process create the remaining
	// namespaces; probing for it is cheaper than attempting a full spawn.
	return exec.Command("unshare", "--user", "--map-root-user", "true").Run() == nil
}

func (b *NamespaceBackend) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	sub := NewSubprocessBackend()
	proc, err := sub.spawnWithAttr(ctx, spec, &syscall.SysProcAttr{
		Cloneflags:  syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWNET | syscall.CLONE_NEWUTS,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: namespace spawn: %w", err)
	}
	return proc, nil
}
