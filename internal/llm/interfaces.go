package llm

// LLMRegistry defines the registry operations used by the evaluator and the
// daemon status handler
type LLMRegistry interface {
	List() []string
	Default() (Provider, error)
	Get(name string) (Provider, error)
	DefaultName() string
}

// Ensure Registry implements LLMRegistry
var _ LLMRegistry = (*Registry)(nil)
