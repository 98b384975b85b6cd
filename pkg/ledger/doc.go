// Package ledger provides admission control and reservation accounting for
// metered inference calls.
//
// # Overview
//
// The ledger keeps one bucket per (lane, provider) globally and one per
// (user, lane, provider). Each bucket tracks settled usage, usage held by
// in-flight reservations, daily and monthly window counters, and an operator
// controlled hard-stop flag.
//
// # Protocol
//
// Every metered call follows the same sequence:
//
//	id := ledger.NewReservationID()
//	decision, err := l.Admit(ctx, key, id, estimate) // CanCall + Reserve, atomically
//	if err != nil {
//	    return err
//	}
//	if !decision.Allowed {
//	    // degrade to decision.Fallback
//	}
//
//	resp, err := callProvider(ctx)
//	if err != nil {
//	    _ = l.Rollback(ctx, key, id, ledger.RollbackRelease)
//	    return err
//	}
//	_ = l.Commit(ctx, key, id, actual)
//
// CanCall and Reserve are also available separately; Admit exists because a
// separate check and reserve leaves a window in which two callers can both be
// admitted against the last slice of a cap.
//
// # Windows
//
// Committed usage is lifetime and is what a total cost cap is measured
// against. Daily and Monthly counters are reset when the configured
// timezone crosses a day or month boundary; daily and monthly unit caps are
// measured against them. Reserved usage is never reset by rollover.
//
// # Thread Safety
//
// Each bucket has its own mutex covering its read-modify-write cycle, so
// operations on a key are linearizable and operations on different keys do
// not contend. Persistence is serialized and always writes a snapshot taken
// after the mutation that triggered it.
package ledger
