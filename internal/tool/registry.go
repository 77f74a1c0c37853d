package tool

import (
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
}

// NewRegistry creates an empty tool registry rooted at workDir.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// WorkDir returns the registry's working directory.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// Register adds a tool, replacing any previous one with the same name.
func (r *Registry) Register(t Tool) {
	decl := t.Metadata()
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Debug().Str("tool", decl.Name).Msg("tool: registered")
	r.tools[decl.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ToolInfos returns the Eino advertisement for every registered tool,
// for handing to provider adapters.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, EinoToolInfo(t.Metadata()))
	}
	return infos
}

// DefaultRegistry creates a registry with all built-in tools except
// delegate, which needs a runner and is registered separately via
// RegisterDelegate once the session layer exists.
func DefaultRegistry(workDir string) *Registry {
	r := NewRegistry(workDir)

	r.Register(NewReadTool(workDir))
	r.Register(NewWriteTool(workDir))
	r.Register(NewEditTool(workDir))
	r.Register(NewBashTool(workDir))
	r.Register(NewGlobTool(workDir))
	r.Register(NewGrepTool(workDir))
	r.Register(NewListTool(workDir))
	r.Register(NewWebFetchTool(workDir))

	return r
}

// RegisterDelegate registers the delegate tool backed by runner.
func (r *Registry) RegisterDelegate(runner DelegateRunner) {
	r.Register(NewDelegateTool(runner))
}
