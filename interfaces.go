package tripwire

import "context"

// Evaluator scores text for a custom check. Returning an error blocks the
// text: the check fails closed. Implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, ec EvalContext) (Verdict, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, text string, ec EvalContext) (Verdict, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, text string, ec EvalContext) (Verdict, error) {
	return f(ctx, text, ec)
}

// AuditSink receives a copy of every execution record, alongside the
// configured audit store. Record runs on the request path and must not block.
type AuditSink interface {
	Record(rec ExecutionRecord)
}
