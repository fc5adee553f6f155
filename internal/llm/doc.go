// Package llm contains adapters and orchestration contracts for invoking
// large language models. It abstracts away provider-specific APIs and
// normalizes the message/tool-call lifecycle consumed by the agent runtime.
package llm
