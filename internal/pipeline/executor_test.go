package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

type stubStep struct {
	name string
	kind string
	run  func(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

func (s *stubStep) Name() string { return s.name }
func (s *stubStep) Kind() string { return s.kind }
func (s *stubStep) Run(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	return s.run(ctx, ec)
}

type stubFactory struct {
	kind string
	run  func(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

func (f *stubFactory) Kind() string { return f.kind }
func (f *stubFactory) Create(model *schema.Model, name string, config map[string]interface{}) (Step, error) {
	return &stubStep{name: name, kind: f.kind, run: f.run}, nil
}

type stubRuntime struct {
	rows          []connector.Row
	queryErr      error
	isolatedCalls int
	rollbacks     int
}

func (r *stubRuntime) Query(ctx context.Context, q *query.Query) ([]connector.Row, error) {
	return r.rows, r.queryErr
}

func (r *stubRuntime) Isolated(ctx context.Context, fn func(ctx context.Context) error) error {
	r.isolatedCalls++
	if err := fn(ctx); err != nil {
		r.rollbacks++
		return err
	}
	return nil
}

func pipelineRegistry(t *testing.T, steps []schema.StepDescription) *schema.Registry {
	t.Helper()
	registry, err := schema.NewRegistry(&schema.Description{
		Models: []schema.ModelDescription{{
			Name: "Note",
			Fields: []schema.FieldDescription{
				{Name: "id", Type: "string", PrimaryKey: true},
				{Name: "title", Type: "string"},
			},
			Pipelines: []schema.PipelineBinding{
				{Event: "before-save", Steps: steps},
			},
		}},
	})
	require.NoError(t, err)
	return registry
}

func noteContext(registry *schema.Registry, value map[string]interface{}) *ExecutionContext {
	model, _ := registry.Resolve("Note")
	return NewExecutionContext(model, PurposeCreate, value)
}

func TestNewExecutor_ResolvesAtBuildTime(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "first", Kind: "mark"},
	})

	t.Run("registered kind resolves", func(t *testing.T) {
		steps := NewRegistry()
		require.NoError(t, steps.Register(&stubFactory{kind: "mark", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
			return Continue, nil
		}}))

		executor, err := NewExecutor(registry, steps)
		require.NoError(t, err)
		assert.True(t, executor.HasChain("Note", schema.EventBeforeSave))
		assert.False(t, executor.HasChain("Note", schema.EventAfterSave))
	})

	t.Run("unknown kind fails startup", func(t *testing.T) {
		_, err := NewExecutor(registry, NewRegistry())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
		assert.Contains(t, err.Error(), `step kind "mark" not registered`)
	})

	t.Run("nil inputs rejected", func(t *testing.T) {
		_, err := NewExecutor(nil, NewRegistry())
		require.Error(t, err)
		_, err = NewExecutor(registry, nil)
		require.Error(t, err)
	})
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "one", Kind: "append"},
		{Name: "two", Kind: "append"},
		{Name: "three", Kind: "append"},
	})

	var order []string
	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "append", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		order = append(order, ec.Value["title"].(string))
		ec.Set("title", ec.Value["title"].(string)+"+")
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	ec := noteContext(registry, map[string]interface{}{"title": "a"})
	require.NoError(t, executor.Run(context.Background(), schema.EventBeforeSave, ec))
	assert.Equal(t, []string{"a", "a+", "a++"}, order)
	assert.Equal(t, "a+++", ec.Value["title"])
}

func TestExecutor_TerminateSkipsRemainingSteps(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "halt", Kind: "halt"},
		{Name: "after", Kind: "never"},
	})

	ran := false
	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "halt", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		ec.Set("title", "final")
		return Terminate, nil
	}}))
	require.NoError(t, steps.Register(&stubFactory{kind: "never", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		ran = true
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	ec := noteContext(registry, map[string]interface{}{"title": "draft"})
	require.NoError(t, executor.Run(context.Background(), schema.EventBeforeSave, ec))
	assert.False(t, ran)
	assert.Equal(t, "final", ec.Value["title"])
}

func TestExecutor_FailureAbortsChain(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "boom", Kind: "boom"},
		{Name: "after", Kind: "never"},
	})

	ran := false
	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "boom", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		return Continue, assert.AnError
	}}))
	require.NoError(t, steps.Register(&stubFactory{kind: "never", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		ran = true
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	err = executor.Run(context.Background(), schema.EventBeforeSave, noteContext(registry, nil))
	require.Error(t, err)
	assert.False(t, ran)
	assert.True(t, errors.IsType(err, errors.ErrTypePipeline))
	assert.Equal(t, "boom", errors.StepName(err))
}

func TestExecutor_ValidationErrorsPassThrough(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "strict", Kind: "strict"},
	})

	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "strict", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		return Continue, errors.FieldValidationError("title", "is required")
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	err = executor.Run(context.Background(), schema.EventBeforeSave, noteContext(registry, nil))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	require.Len(t, errors.FieldErrors(err), 1)
	assert.Equal(t, "title", errors.FieldErrors(err)[0].Field)
}

func TestExecutor_OnErrorContinueDiscardsMutation(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "flaky", Kind: "flaky", OnError: "continue"},
		{Name: "after", Kind: "mark"},
	})

	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "flaky", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		ec.Set("title", "half-done")
		return Continue, assert.AnError
	}}))
	marked := false
	require.NoError(t, steps.Register(&stubFactory{kind: "mark", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		marked = true
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	ec := noteContext(registry, map[string]interface{}{"title": "original"})
	require.NoError(t, executor.Run(context.Background(), schema.EventBeforeSave, ec))
	assert.True(t, marked)
	assert.Equal(t, "original", ec.Value["title"])
}

func TestExecutor_IsolatedStepUsesRuntime(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "risky", Kind: "risky", Isolated: true, OnError: "continue"},
	})

	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "risky", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		return Continue, assert.AnError
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	runtime := &stubRuntime{}
	ec := noteContext(registry, nil)
	ec.Runtime = runtime
	require.NoError(t, executor.Run(context.Background(), schema.EventBeforeSave, ec))
	assert.Equal(t, 1, runtime.isolatedCalls)
	assert.Equal(t, 1, runtime.rollbacks)
}

func TestExecutor_CancellationCheckedBetweenSteps(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "cancel", Kind: "cancel"},
		{Name: "after", Kind: "never"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "cancel", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		cancel()
		return Continue, nil
	}}))
	require.NoError(t, steps.Register(&stubFactory{kind: "never", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		ran = true
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)

	err = executor.Run(ctx, schema.EventBeforeSave, noteContext(registry, nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestExecutor_NoChainIsNoOp(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "one", Kind: "mark"},
	})
	steps := NewRegistry()
	require.NoError(t, steps.Register(&stubFactory{kind: "mark", run: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
		return Continue, nil
	}}))

	executor, err := NewExecutor(registry, steps)
	require.NoError(t, err)
	require.NoError(t, executor.Run(context.Background(), schema.EventAfterSave, noteContext(registry, nil)))
}

func TestRegistry_DuplicateKindRejected(t *testing.T) {
	registry := NewRegistry()
	factory := &stubFactory{kind: "twice", run: nil}
	require.NoError(t, registry.Register(factory))

	err := registry.Register(factory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step kind "twice" already registered`)
	assert.Equal(t, []string{"twice"}, registry.Kinds())
}

func TestRegistry_MergeSkipsExisting(t *testing.T) {
	base := NewRegistry()
	require.NoError(t, base.Register(&stubFactory{kind: "shared"}))

	overlay := NewRegistry()
	require.NoError(t, overlay.Register(&stubFactory{kind: "shared"}))
	require.NoError(t, overlay.Register(&stubFactory{kind: "extra"}))

	base.Merge(overlay)
	assert.Equal(t, []string{"extra", "shared"}, base.Kinds())
}

func TestExecutionContext_Helpers(t *testing.T) {
	registry := pipelineRegistry(t, []schema.StepDescription{
		{Name: "one", Kind: "mark"},
	})
	model, err := registry.Resolve("Note")
	require.NoError(t, err)

	ec := NewExecutionContext(model, PurposeUpdate, nil)
	assert.NotNil(t, ec.Value)

	ec.Set("title", "x")
	v, present := ec.Get("title")
	assert.True(t, present)
	assert.Equal(t, "x", v)

	ec.Warn("page-size-clamped", "clamped")
	require.Len(t, ec.Warnings, 1)
	assert.Equal(t, "page-size-clamped", ec.Warnings[0].Code)

	assert.Nil(t, ec.GetMeta("missing"))
	ec.SetMeta("seen", true)
	assert.Equal(t, true, ec.GetMeta("seen"))
}
