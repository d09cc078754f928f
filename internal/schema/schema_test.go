package schema

import (
	"testing"

	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

func TestDefaultRegistryKnowsNormativeActions(t *testing.T) {
	r := Default()
	for _, a := range []protocol.Action{
		protocol.ActionLLMCall, protocol.ActionMemoryWrite, protocol.ActionWebFetch,
		protocol.ActionAgentDelegate, protocol.ActionSchedulerAddCron,
	} {
		if !r.Known(a) {
			t.Errorf("expected %s to be known", a)
		}
	}
	if r.Known("not_a_real_action") {
		t.Error("unexpected action reported known")
	}
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	r := Default()
	err := r.Validate(protocol.ActionMemoryWrite, map[string]any{
		"key": "k", "value": "v", "unexpected": "oops",
	})
	if err == nil {
		t.Fatal("expected strict validation to reject the unknown field")
	}
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	r := Default()
	if err := r.Validate(protocol.ActionMemoryWrite, map[string]any{"key": "k"}); err == nil {
		t.Fatal("expected missing required field \"value\" to fail validation")
	}
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	r := Default()
	err := r.Validate(protocol.ActionWebFetch, map[string]any{
		"url": "https://example.com", "max_bytes": float64(1024),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEnforcesEnum(t *testing.T) {
	r := Default()
	err := r.Validate(protocol.ActionAgentDelegate, map[string]any{
		"target_agent_id": "x", "task": "y", "mode": "ludicrous",
	})
	if err == nil {
		t.Fatal("expected enum violation to fail validation")
	}
}

func TestValidateUnknownAction(t *testing.T) {
	r := Default()
	if err := r.Validate("bogus", map[string]any{}); err == nil {
		t.Fatal("expected validation of an unregistered action to fail")
	}
}
