package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/targetplatform/pkg/engine"
)

// staticLocation serves a fixed list of bundles.
type staticLocation struct {
	engine.ResolutionCache
	name    string
	bundles []engine.TargetBundle
}

func (l *staticLocation) Type() engine.LocationType { return engine.LocationDirectory }

func (l *staticLocation) Resolve(ctx context.Context, _ *engine.TargetDefinition, force bool) *engine.Status {
	if st, ok := l.Cached(force); ok {
		return st
	}
	return l.Commit(ctx, l.bundles, nil, nil)
}

func (l *staticLocation) ContentEqual(other engine.Location) bool {
	o, ok := other.(*staticLocation)
	return ok && o.name == l.name
}

func (l *staticLocation) String() string { return l.name }

// Example_resolve merges two locations and restricts the result with an
// inclusion list. The unmatched mandatory entry makes the resolution fail.
func Example_resolve() {
	def := engine.NewTargetDefinition("example")
	def.SetTargetLocations([]engine.Location{
		&staticLocation{name: "base", bundles: []engine.TargetBundle{
			{SymbolicName: "org.example.core", Version: "1.0.0"},
			{SymbolicName: "org.example.ui", Version: "1.0.0"},
		}},
		&staticLocation{name: "extras", bundles: []engine.TargetBundle{
			{SymbolicName: "org.example.core", Version: "1.0.0"},
			{SymbolicName: "org.example.tools", Version: "2.1.0"},
		}},
	})
	def.SetIncluded([]engine.NameVersionDescriptor{
		engine.PluginDescriptor("org.example.core", ""),
		engine.PluginDescriptor("org.example.tools", "2.1"),
		engine.PluginDescriptor("org.example.missing", ""),
	})

	st := def.Resolve(context.Background(), false)
	for _, b := range def.Bundles() {
		fmt.Println(b.SymbolicName, b.Version)
	}
	fmt.Println(st)
	// Output:
	// org.example.core 1.0.0
	// org.example.tools 2.1.0
	// error: Problems occurred while resolving the target contents
	//   error: Plug-in org.example.missing does not exist in the target
}
