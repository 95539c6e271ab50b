// Package di wires stageflow services with samber/do.
//
// A Runtime holds the base modules. Each command invocation gets a fresh
// injector, so lazily provided services such as the cluster connection are
// only built by the commands that resolve them.
package di

import (
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

// Injector is the dependency container passed to handlers.
type Injector = do.Injector

// Module registers services with an injector.
type Module func(Injector) error

// Runtime runs handlers inside a freshly built injector.
type Runtime struct {
	modules []Module
}

// New creates a runtime with base modules.
func New(modules ...Module) *Runtime {
	return &Runtime{modules: modules}
}

// Invoke builds an injector from the base modules and extra modules, in that
// order, runs the handler and shuts the injector down.
func (r *Runtime) Invoke(handler func(Injector) error, extra ...Module) error {
	injector := do.New()
	defer func() { _ = injector.Shutdown() }()

	for _, module := range append(append([]Module(nil), r.modules...), extra...) {
		if module == nil {
			continue
		}

		err := module(injector)
		if err != nil {
			return err
		}
	}

	return handler(injector)
}

// RunEWithRuntime adapts a handler to cobra's RunE.
func RunEWithRuntime(
	runtime *Runtime,
	handler func(cmd *cobra.Command, injector Injector) error,
	extra ...Module,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return runtime.Invoke(func(injector Injector) error {
			return handler(cmd, injector)
		}, extra...)
	}
}
