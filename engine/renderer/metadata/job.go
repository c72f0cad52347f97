package metadata

import "fmt"

/**
 * @brief A strand is a cooperative mutual-exclusion domain for asynchronous work.
 * Two work items sharing a nonzero strand never execute concurrently. Strand 0
 * means unstranded and is unaffected by any strand's exclusion.
 */
type Strand uint32

const (
	/** @brief Work that may run on any worker, concurrently with anything. */
	StrandNone Strand = 0
	/**
	 * @brief Work that reads from disk. Keeping asset reads on one strand avoids
	 * disk thrashing when many loads are posted at once.
	 */
	StrandAssetIO Strand = 1
	/** @brief First strand value free for application use. */
	StrandUser Strand = 16
)

/** @brief Definition for the work a job performs. Must never panic; failures are encoded in the result. */
type JobAction func() Result

/** @brief Definition for completion of a job. Runs on the owning thread during a drain. */
type JobOnComplete func(Result)

/**
 * @brief Describes a job to be run.
 */
type WorkItem struct {
	/** @brief The work to perform. Required. */
	Action JobAction
	/** @brief Invoked with the action's result on the owning thread. Optional. */
	Completion JobOnComplete
	/** @brief The strand the job is bound to. 0 means unstranded. */
	Strand Strand
}

/**
 * @brief A finished job waiting to be delivered.
 */
type CompletionRecord struct {
	Handler JobOnComplete
	Result  Result
}

// Releaser is implemented by owned result values that hold resources which
// must be freed exactly once.
type Releaser interface {
	Release()
}

type ResultKind uint8

const (
	ResultKindNone ResultKind = iota
	ResultKindInts
	ResultKindFloat
	ResultKindDouble
	ResultKindOwned
	ResultKindFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultKindNone:
		return "none"
	case ResultKindInts:
		return "ints"
	case ResultKindFloat:
		return "float"
	case ResultKindDouble:
		return "double"
	case ResultKindOwned:
		return "owned"
	case ResultKindFailed:
		return "failed"
	}
	return fmt.Sprintf("ResultKind(%d)", uint8(k))
}

// Result is the value a job hands to its completion. Exactly one variant is
// set, as reported by Kind. An Owned value belongs to the completion, which
// must release it exactly once.
type Result struct {
	kind  ResultKind
	ints  [2]int32
	f32   float32
	f64   float64
	value any
	err   error
}

func ResultNone() Result {
	return Result{}
}

func ResultInts(a, b int32) Result {
	return Result{kind: ResultKindInts, ints: [2]int32{a, b}}
}

func ResultFloat(f float32) Result {
	return Result{kind: ResultKindFloat, f32: f}
}

func ResultDouble(d float64) Result {
	return Result{kind: ResultKindDouble, f64: d}
}

// ResultOwned transfers value to the completion handler.
func ResultOwned(value any) Result {
	return Result{kind: ResultKindOwned, value: value}
}

func ResultFailed(err error) Result {
	return Result{kind: ResultKindFailed, err: err}
}

func (r Result) Kind() ResultKind {
	return r.kind
}

func (r Result) Ints() (int32, int32, bool) {
	return r.ints[0], r.ints[1], r.kind == ResultKindInts
}

func (r Result) Float() (float32, bool) {
	return r.f32, r.kind == ResultKindFloat
}

func (r Result) Double() (float64, bool) {
	return r.f64, r.kind == ResultKindDouble
}

// Owned returns the owned value. The caller becomes responsible for
// releasing it.
func (r Result) Owned() (any, bool) {
	return r.value, r.kind == ResultKindOwned
}

// Err returns the failure carried by the result, if any.
func (r Result) Err() error {
	if r.kind == ResultKindFailed {
		return r.err
	}
	return nil
}

// Release frees an owned value nobody took. It is a no-op for every other
// variant.
func (r Result) Release() {
	if r.kind != ResultKindOwned {
		return
	}
	if rel, ok := r.value.(Releaser); ok {
		rel.Release()
	}
}
