package schema

import "github.com/nextlevelbuilder/cagehost/pkg/protocol"

// Default returns a registry populated with the normative action set from
// spec §4.2. Hosts may Register additional actions (e.g. custom tools)
// without losing these.
func Default() *Registry {
	r := NewRegistry()
	for _, s := range defaultSchemas() {
		r.Register(s)
	}
	return r
}

func defaultSchemas() []Schema {
	str := func(name string, required bool, maxLen int) Field {
		return Field{Name: name, Type: TypeString, Required: required, MaxLen: maxLen}
	}
	num := func(name string, required bool) Field {
		return Field{Name: name, Type: TypeNumber, Required: required}
	}
	boolean := func(name string, required bool) Field {
		return Field{Name: name, Type: TypeBool, Required: required}
	}

	return []Schema{
		{Action: protocol.ActionLLMCall, Fields: []Field{
			str("prompt", true, 200_000),
			str("model", false, 200),
			num("max_tokens", false),
			Field{Name: "temperature", Type: TypeNumber, MinSet: true, MaxSet: true, Min: 0, Max: 2},
		}},

		{Action: protocol.ActionMemoryWrite, Fields: []Field{
			str("key", true, 512),
			str("value", true, 1_000_000),
			Field{Name: "scope", Type: TypeString, Enum: []string{"session", "user", "agent"}},
		}},
		{Action: protocol.ActionMemoryQuery, Fields: []Field{
			str("query", true, 2000),
			num("limit", false),
		}},
		{Action: protocol.ActionMemoryRead, Fields: []Field{str("key", true, 512)}},
		{Action: protocol.ActionMemoryDelete, Fields: []Field{str("key", true, 512)}},
		{Action: protocol.ActionMemoryList, Fields: []Field{num("limit", false)}},

		{Action: protocol.ActionWebFetch, Fields: []Field{
			str("url", true, 4096),
			num("max_bytes", false),
		}},
		{Action: protocol.ActionWebSearch, Fields: []Field{
			str("query", true, 1000),
			num("max_results", false),
		}},

		{Action: protocol.ActionBrowserLaunch, Fields: []Field{str("profile", false, 128)}},
		{Action: protocol.ActionBrowserNavigate, Fields: []Field{str("url", true, 4096)}},
		{Action: protocol.ActionBrowserSnapshot, Fields: []Field{}},
		{Action: protocol.ActionBrowserClick, Fields: []Field{str("selector", true, 1024)}},
		{Action: protocol.ActionBrowserType, Fields: []Field{
			str("selector", true, 1024),
			str("text", true, 10_000),
		}},
		{Action: protocol.ActionBrowserScreenshot, Fields: []Field{}},
		{Action: protocol.ActionBrowserClose, Fields: []Field{}},

		{Action: protocol.ActionSkillRead, Fields: []Field{str("name", true, 256)}},
		{Action: protocol.ActionSkillList, Fields: []Field{}},
		{Action: protocol.ActionSkillPropose, Fields: []Field{
			str("name", true, 256),
			str("content", true, 200_000),
		}},

		{Action: protocol.ActionAuditQuery, Fields: []Field{
			str("action", false, 128),
			str("session_id", false, 256),
			str("since", false, 64),
			str("until", false, 64),
			num("limit", false),
		}},

		{Action: protocol.ActionIdentityWrite, Fields: []Field{
			str("key", true, 256),
			str("value", true, 10_000),
		}},
		{Action: protocol.ActionUserWrite, Fields: []Field{
			str("key", true, 256),
			str("value", true, 10_000),
		}},

		{Action: protocol.ActionSchedulerAddCron, Fields: []Field{
			str("cron_expr", true, 128),
			str("prompt", true, 10_000),
			str("agent_id", false, 128),
			num("max_token_budget", false),
			boolean("run_once", false),
			Field{Name: "delivery", Type: TypeObject},
		}},
		{Action: protocol.ActionSchedulerRunAt, Fields: []Field{
			str("at", true, 64),
			str("prompt", true, 10_000),
			str("agent_id", false, 128),
		}},
		{Action: protocol.ActionSchedulerRemoveCron, Fields: []Field{str("job_id", true, 128)}},
		{Action: protocol.ActionSchedulerListJobs, Fields: []Field{}},

		{Action: protocol.ActionAgentDelegate, Fields: []Field{
			str("target_agent_id", true, 128),
			str("task", true, 50_000),
			str("context", false, 50_000),
			Field{Name: "mode", Type: TypeString, Enum: []string{"sync", "async"}},
		}},

		{Action: protocol.ActionWorkspaceRead, Fields: []Field{str("path", true, 4096)}},
		{Action: protocol.ActionWorkspaceWrite, Fields: []Field{
			str("path", true, 4096),
			str("content", true, 10_000_000),
		}},
		{Action: protocol.ActionWorkspaceList, Fields: []Field{str("path", false, 4096)}},

		{Action: protocol.ActionProposalList, Fields: []Field{}},
		{Action: protocol.ActionProposalReview, Fields: []Field{
			str("proposal_id", true, 128),
			Field{Name: "approve", Type: TypeBool, Required: true},
		}},
	}
}
