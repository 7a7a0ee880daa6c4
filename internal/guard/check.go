package guard

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Check is one ready-to-run policy test.
type Check interface {
	Descriptor() Descriptor
	// Execute never fails: a check that cannot make a judgment returns a
	// triggered result with maximal confidence and Error set.
	Execute(ctx context.Context, in Input, ec EvalContext) Result
}

// NoContentReason is the reasoning attached to blank-input results.
const NoContentReason = "no content to check"

// errRateLimited is reported when a check's rate window is exhausted.
var errRateLimited = errors.New("rate window exhausted for check")

// check wraps an Evaluator in the shared execution envelope.
type check struct {
	desc   Descriptor
	params Params
	eval   Evaluator
	svc    Services
	logger *slog.Logger

	// paramsKey fingerprints the effective parameters; empty when they
	// cannot be encoded, which disables caching for this instance.
	paramsKey string
}

func newCheck(d Descriptor, p Params, ev Evaluator, svc Services, logger *slog.Logger) *check {
	c := &check{desc: d, params: p, eval: ev, svc: svc, logger: logger}
	if b, err := json.Marshal(p); err == nil {
		c.paramsKey = fingerprint(string(b))
	} else {
		logger.Warn("guard: check parameters not encodable, caching disabled", "check_id", d.ID, "error", err)
	}
	return c
}

func (c *check) Descriptor() Descriptor { return cloneDescriptor(c.desc) }

func (c *check) Execute(ctx context.Context, in Input, ec EvalContext) Result {
	start := time.Now()
	dir := ec.Direction
	if dir == "" {
		dir = c.desc.Direction
	}
	text := in.Text()

	ctx, span := c.svc.Telemetry.Start(ctx, c.desc.ID, dir)
	res, hit, err := c.run(ctx, text, ec, dir, start)
	c.svc.Telemetry.Finish(ctx, span, Execution{
		CheckID:   c.desc.ID,
		AgentID:   ec.AgentID,
		Direction: dir,
		Text:      text,
		Result:    res,
		CacheHit:  hit,
		Err:       err,
		Elapsed:   time.Since(start),
	})
	return res
}

// run performs the envelope steps. It returns the result, whether it came
// from the cache, and the failure that forced a fail-closed result, if any.
func (c *check) run(ctx context.Context, text string, ec EvalContext, dir Direction, start time.Time) (Result, bool, error) {
	if isBlank(text) {
		return Result{
			CheckID:         c.desc.ID,
			Name:            c.desc.Name,
			Direction:       dir,
			Threshold:       c.params.Threshold,
			Reasoning:       NoContentReason,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, false, nil
	}

	key := c.cacheKey(text)
	if key != "" {
		if payload, ok := c.svc.Cache.Get(key); ok {
			var cached Result
			err := json.Unmarshal(payload, &cached)
			if err == nil {
				return cached, true, nil
			}
			c.logger.Warn("guard: corrupt cache entry, evaluating fresh", "check_id", c.desc.ID, "error", err)
			c.svc.Cache.Delete(key)
		}
	}

	if c.svc.Limiter != nil {
		allowed, err := c.svc.Limiter.Allow(ctx, "check:"+c.desc.ID)
		if err != nil {
			err = fmt.Errorf("rate limiter: %w", err)
			return FailClosed(c.desc, dir, c.params.Threshold, err, time.Since(start)), false, err
		}
		if !allowed {
			return FailClosed(c.desc, dir, c.params.Threshold, errRateLimited, time.Since(start)), false, errRateLimited
		}
	}

	v, err := c.evaluate(ctx, text, ec)
	if err == nil {
		err = checkVerdict(v)
	}
	var details json.RawMessage
	if err == nil && v.Details != nil {
		details, err = json.Marshal(v.Details)
		if err != nil {
			err = fmt.Errorf("encode details: %w", err)
		}
	}
	if err != nil {
		return FailClosed(c.desc, dir, c.params.Threshold, err, time.Since(start)), false, err
	}

	res := Result{
		CheckID:         c.desc.ID,
		Name:            c.desc.Name,
		Direction:       dir,
		Triggered:       v.Triggered,
		Confidence:      v.Confidence,
		Scores:          v.Scores,
		Threshold:       c.params.Threshold,
		Details:         details,
		Reasoning:       v.Reasoning,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if key != "" {
		if payload, err := json.Marshal(res); err == nil {
			c.svc.Cache.Set(key, payload, c.desc.CacheTTL)
		}
	}
	return res, false, nil
}

// evaluate calls the evaluator, converting a panic into an error so one
// broken check cannot take the pipeline down.
func (c *check) evaluate(ctx context.Context, text string, ec EvalContext) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("guard: evaluator panic", "check_id", c.desc.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return c.eval.Evaluate(ctx, text, ec)
}

func checkVerdict(v Verdict) error {
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", v.Confidence)
	}
	for name, s := range v.Scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return fmt.Errorf("score %s=%v outside [0,1]", name, s)
		}
	}
	return nil
}

// cacheKey composes check id, text fingerprint, and parameter fingerprint.
// Returns "" when caching does not apply.
func (c *check) cacheKey(text string) string {
	if c.svc.Cache == nil || c.desc.CacheTTL <= 0 || c.paramsKey == "" {
		return ""
	}
	return c.desc.ID + ":" + fingerprint(text) + ":" + c.paramsKey
}

func fingerprint(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// FailClosed builds the result returned when a check cannot make a
// judgment: triggered, maximal confidence, and the failure recorded.
func FailClosed(d Descriptor, dir Direction, threshold float64, err error, elapsed time.Duration) Result {
	return Result{
		CheckID:         d.ID,
		Name:            d.Name,
		Direction:       dir,
		Triggered:       true,
		Confidence:      1.0,
		Threshold:       threshold,
		Reasoning:       "check could not complete, blocking by default: " + err.Error(),
		ExecutionTimeMs: elapsed.Milliseconds(),
		Error:           err.Error(),
	}
}
