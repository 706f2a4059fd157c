package tool

import (
	"context"
	"sort"
	"strings"

	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
)

const (
	// EtcServer groups tools whose name carries no server prefix.
	EtcServer = "etc"

	noToolsDescription = "사용 가능한 도구가 없습니다."
	toolsHeader        = "다음 도구를 사용할 수 있습니다:\n\n"
)

// Catalog is the external registry of invocable tools.
type Catalog interface {
	ListTools(ctx context.Context) ([]Tool, error)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(ctx context.Context) ([]Tool, error)

// ListTools implements Catalog.
func (f CatalogFunc) ListTools(ctx context.Context) ([]Tool, error) { return f(ctx) }

// StaticCatalog is a fixed tool list.
type StaticCatalog []Tool

// ListTools implements Catalog.
func (c StaticCatalog) ListTools(context.Context) ([]Tool, error) {
	return append([]Tool(nil), c...), nil
}

// Info is the descriptive part of a tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Server      string `json:"server"`
}

// ServerOf derives the origin server from a tool name: the prefix before the
// first underscore, or EtcServer.
func ServerOf(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return EtcServer
}

// OriginOf reports the origin server of t.
func OriginOf(t Tool) string {
	if st, ok := t.(ServerTool); ok {
		if s := st.Server(); s != "" {
			return s
		}
	}
	return ServerOf(t.Name())
}

// View is a read-only snapshot of a catalog taken at one point in time.
// The zero value is an empty view.
type View struct {
	tools  []Tool
	byName map[string]Tool
}

// NewView lists the catalog and snapshots the result. A catalog failure or an
// empty catalog yields an empty view; the run continues with zero tools.
func NewView(ctx context.Context, catalog Catalog, logger logging.Logger) *View {
	logger = logging.OrNoOp(logger)
	if catalog == nil {
		return &View{}
	}

	tools, err := catalog.ListTools(ctx)
	if err != nil {
		logger.Warn("tool.catalog.unavailable", "error", err.Error())
		return &View{}
	}
	if len(tools) == 0 {
		logger.Warn("tool.catalog.empty")
		return &View{}
	}

	v := ViewOf(tools...)
	logger.Info("tool.catalog.loaded", "servers", len(v.Groups()), "tools", v.Len())
	return v
}

// ViewOf builds a view over tools. Later duplicates of a name are dropped.
func ViewOf(tools ...Tool) *View {
	v := &View{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := v.byName[t.Name()]; dup {
			continue
		}
		v.byName[t.Name()] = t
		v.tools = append(v.tools, t)
	}
	return v
}

// Len returns the number of tools.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.tools)
}

// Tools returns the tools in catalog order.
func (v *View) Tools() []Tool {
	if v == nil {
		return nil
	}
	return append([]Tool(nil), v.tools...)
}

// Lookup finds a tool by name.
func (v *View) Lookup(name string) (Tool, bool) {
	if v == nil || v.byName == nil {
		return nil, false
	}
	t, ok := v.byName[name]
	return t, ok
}

// Groups returns tool infos keyed by origin server.
func (v *View) Groups() map[string][]Info {
	groups := make(map[string][]Info)
	if v == nil {
		return groups
	}
	for _, t := range v.tools {
		server := OriginOf(t)
		groups[server] = append(groups[server], Info{Name: t.Name(), Description: t.Description(), Server: server})
	}
	return groups
}

// Describe formats "name: description" entries sorted by name for prompt use.
func (v *View) Describe() string {
	if v.Len() == 0 {
		return noToolsDescription
	}
	sorted := v.Tools()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	entries := make([]string, 0, len(sorted))
	for _, t := range sorted {
		entries = append(entries, t.Name()+": "+t.Description())
	}
	return toolsHeader + strings.Join(entries, "\n\n")
}

// Definitions converts the tools to model tool definitions.
func (v *View) Definitions() []model.ToolDefinition {
	if v.Len() == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(v.tools))
	for _, t := range v.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
