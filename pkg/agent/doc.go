// Package agent resolves what the reasoning model may see and call during a
// session, and talks to the external completion endpoint.
//
// Invariants:
// - The resolver is Unconfigured until both an instructions template and an LLM
//   model are set; every accessor used before that panics with ErrNotReady.
// - Configure is additive for tools; only RemoveTool removes one.
// - Tool authorization is evaluated against the session context on every call.
//
// Usage:
//
//	resolver, _ := agent.NewResolver(sessionCtx, logger)
//	_ = resolver.Configure(agent.ResolverConfig{
//		InstructionsTemplate: "You are the concierge for {{company.name}}.",
//		LLMConfig:            &agent.LLMConfig{Model: "gpt-4o-mini"},
//		ToolManifest:         []agent.ToolSpec{{Name: "lookup_order", Kind: agent.ToolKindFunction}},
//	})
//	spec, err := resolver.Resolve("lookup_order")
//	_, _ = spec, err
package agent
