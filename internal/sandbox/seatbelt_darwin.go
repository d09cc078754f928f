//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SeatbeltBackend isolates the agent process with a macOS sandbox-exec
// profile: no network sockets, read access limited to the shared, user
// and scratch mounts, write access limited to the user and scratch mounts
// and the dispatcher socket.
type SeatbeltBackend struct{}

func NewSeatbeltBackend() *SeatbeltBackend { return &SeatbeltBackend{} }

func (b *SeatbeltBackend) Name() string { return "seatbelt" }

func (b *SeatbeltBackend) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath("sandbox-exec")
	return err == nil
}

func (b *SeatbeltBackend) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	profile := seatbeltProfile(spec)
	wrapped := spec
	wrapped.Command = "sandbox-exec"
	wrapped.Args = append([]string{"-p", profile, spec.Command}, spec.Args...)

	sub := NewSubprocessBackend()
	proc, err := sub.Spawn(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("sandbox: seatbelt spawn: %w", err)
	}
	return proc, nil
}

// seatbeltProfile composes a deny-by-default sandbox-exec profile
// allowing only reads under the shared tier and reads+writes under the
// user and scratch tiers and the dispatcher socket — the no-network
// invariant of spec §1 is encoded as a blanket network-outbound deny.
func seatbeltProfile(spec Spec) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(deny network*)\n")
	b.WriteString(fmt.Sprintf("(allow file-read* (subpath %q))\n", spec.Mounts.SharedPath))
	b.WriteString(fmt.Sprintf("(allow file-read* file-write* (subpath %q))\n", spec.Mounts.UserPath))
	b.WriteString(fmt.Sprintf("(allow file-read* file-write* (subpath %q))\n", spec.Mounts.ScratchPath))
	if spec.Mounts.DispatcherSock != "" {
		b.WriteString(fmt.Sprintf("(allow file-read* file-write* network* (literal %q))\n", spec.Mounts.DispatcherSock))
	}
	b.WriteString("(allow process-fork process-exec)\n")
	return b.String()
}
