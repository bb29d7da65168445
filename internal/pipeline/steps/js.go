package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// JSStep runs a user script against the current value. The script sees
// `value` (mutable), `identity` and `purpose`; returning an object
// replaces the value wholesale. Scripts are compiled once at build time
// and executed in a fresh sandboxed runtime per request, bounded by a
// wall-clock timeout.
type JSStep struct {
	name     string
	config   jsConfig
	compiled *goja.Program
}

type jsConfig struct {
	Script    string `json:"script"`
	TimeoutMs int64  `json:"timeoutMs"`
}

func newJSStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &JSStep{name: name}
	if err := decodeConfig("js", config, &step.config); err != nil {
		return nil, err
	}
	if step.config.Script == "" {
		return nil, errors.ConfigurationError("js step requires a script")
	}
	if step.config.TimeoutMs == 0 {
		step.config.TimeoutMs = 5000
	}
	if step.config.TimeoutMs < 0 || step.config.TimeoutMs > 60000 {
		return nil, errors.ConfigurationError("js step timeoutMs must be between 0 and 60000")
	}

	compiled, err := goja.Compile("step:"+name, step.config.Script, false)
	if err != nil {
		return nil, errors.ConfigurationErrorf("failed to compile js step script: %v", err)
	}
	step.compiled = compiled
	return step, nil
}

func (s *JSStep) Name() string { return s.name }
func (s *JSStep) Kind() string { return "js" }

func (s *JSStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	vm := goja.New()
	sandbox(vm)

	if err := vm.Set("value", ec.Value); err != nil {
		return pipeline.Continue, err
	}
	vm.Set("purpose", string(ec.Purpose))
	if ec.Identity != nil {
		vm.Set("identity", map[string]interface{}{
			"subject": ec.Identity.Subject,
			"claims":  ec.Identity.Claims,
		})
	} else {
		vm.Set("identity", goja.Null())
	}

	timeout := time.Duration(s.config.TimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	var result goja.Value
	var runErr error
	go func() {
		defer close(done)
		result, runErr = vm.RunProgram(s.compiled)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		vm.Interrupt("timeout")
		<-done
		return pipeline.Continue, fmt.Errorf("js step timed out after %s", timeout)
	}
	if runErr != nil {
		return pipeline.Continue, fmt.Errorf("js step failed: %w", runErr)
	}

	// an object result replaces the value; anything else keeps the
	// in-place mutations the script made through `value`
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if replaced, ok := result.Export().(map[string]interface{}); ok {
			ec.Value = replaced
		}
	}
	return pipeline.Continue, nil
}

// sandbox strips the dynamic evaluation surface from the runtime
func sandbox(vm *goja.Runtime) {
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
	vm.RunString(`Object.freeze(Object.prototype);`)
}
