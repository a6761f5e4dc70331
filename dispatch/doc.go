// Package dispatch provides the boundary clients used to run one unit of
// agent work on an external execution service, plus the cross-cutting retry
// and backpressure wrappers the strategies call uniformly.
//
// Three Dispatcher implementations are included: an HTTP client for a remote
// agent-execution service, and Anthropic / OpenAI backed dispatchers that run
// a single agent turn directly against a model API. All of them classify
// failures as transient or permanent so the retry layer can discriminate, and
// none of them ever aborts a run on its own.
package dispatch
