// Package executor performs metered outbound HTTP calls with bounded
// concurrency and retry/backoff under a wall-clock budget.
//
// # Admission Gate
//
// One Executor owns a counting gate of Config.MaxConcurrent slots shared by
// every call it makes, regardless of target. A slot is held for the duration
// of one attempt, not across backoff sleeps.
//
// # Retry State Machine
//
// Each call runs against deadline = now + TotalRetryBudget:
//
//   - 2xx: the body is decoded as JSON and returned. A decode failure is not retried.
//   - 429 or 5xx with Retry-After: the executor sleeps exactly that long if it
//     fits in the remaining budget, otherwise it fails with
//     *BudgetWaitExceededError without sleeping.
//   - 429 or 5xx without Retry-After, or a transport failure: exponential
//     backoff starting at InitialBackoff, doubled each round, with jitter and
//     capped at MaxBackoff. A sleep that would cross the deadline ends the
//     call with *DeadlineExceededError.
//   - any other status: *NonRetryableRequestError with a short body preview.
//
// Waiting for a gate slot counts against the same deadline; a call still
// queued when the budget runs out fails with *DeadlineExceededError.
//
// Cancellation of the caller's context while waiting on the gate, the network
// or a sleep is returned as *CanceledError, which unwraps to ctx.Err(), and is
// never retried. Dispatched reports whether any request reached the backend
// before the call failed.
//
// # Example
//
//	exec := executor.New(executor.DefaultConfig())
//	defer exec.Close()
//
//	body, err := exec.Execute(ctx, executor.Request{
//	    Method:           http.MethodPost,
//	    URL:              "https://api.example.com/v1/chat/completions",
//	    Headers:          map[string]string{"Authorization": "Bearer " + key},
//	    Body:             payload,
//	    TotalRetryBudget: 60 * time.Second,
//	    MaxAttempts:      5,
//	})
package executor
