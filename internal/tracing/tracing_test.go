package tracing

import (
	"context"
	"testing"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartAction(context.Background(), "sess-1", "memory_write")
	span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestInitEnabledStdouttrace(t *testing.T) {
	shutdown, err := Init(Config{Enabled: true, ServiceName: "cagehost-test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	_, span := StartSandboxSpawn(context.Background(), "subprocess", "agent-1")
	span.End()

	_, span2 := StartSchedulerFire(context.Background(), "cron", "job-1")
	span2.End()
}
