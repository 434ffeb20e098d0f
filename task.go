package tasksched

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dstask/tasksched/internal/observer"
)

// listenerKey returns an identity key for a listener function value. Two
// closures built from the same literal but capturing different state get
// distinct keys (each allocates its own funcval), so this only produces a
// stable key across calls when callers pass the exact same func value to
// both Add and Remove — which is the contract
// Add*ChangeListener/Remove*ChangeListener document.
func listenerKey[F any](f F) uintptr {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return *(*uintptr)(unsafe.Pointer(&f))
}

// TaskState is one of the seven states a Task can occupy. See the
// transition table implemented by legalTransition.
type TaskState int

const (
	StateCreating TaskState = iota
	StatePrerequisitesUnfulfilled
	StateExecutable
	StateRunning
	StateSuccessful
	StateFailed
	StatePrerequisiteFailed
)

func (s TaskState) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StatePrerequisitesUnfulfilled:
		return "PrerequisitesUnfulfilled"
	case StateExecutable:
		return "Executable"
	case StateRunning:
		return "Running"
	case StateSuccessful:
		return "Successful"
	case StateFailed:
		return "Failed"
	case StatePrerequisiteFailed:
		return "PrerequisiteFailed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// IsTerminal reports whether s is one of the three absorbing states.
func (s TaskState) IsTerminal() bool {
	return s == StateSuccessful || s == StateFailed || s == StatePrerequisiteFailed
}

// IsSubmitted reports whether s is one of the two states a task occupies
// once it has left the Ready Book's insertion step (Executable or
// PrerequisitesUnfulfilled).
func (s TaskState) IsSubmitted() bool {
	return s == StateExecutable || s == StatePrerequisitesUnfulfilled
}

// taskStateListener and taskPrereqListener are the untyped internal
// listener shapes shared by Monitoring, Prerequisites, and ReadyBook: they
// only need to observe state changes on a TaskHandle, never the task's
// concrete result type.
type taskStateListener func(handle TaskHandle, previous TaskState)
type taskPrereqListener func(handle TaskHandle, previous PrerequisitesState)

// TaskHandle is the type-erased view of a Task[R] used by every component
// that must hold heterogeneously-typed tasks in one collection: Monitoring
// buckets, Prerequisites aggregates, and Ready Book priority queues. Its
// methods are unexported, so only *Task[R] (for any R) can implement it;
// external packages interact with Task[R] directly.
type TaskHandle interface {
	State() TaskState
	Priority() int

	sequence() uint64
	setSequence(uint64)

	addStateListener(l taskStateListener) bool
	removeStateListener(l taskStateListener) bool
	addPrerequisitesListener(l taskPrereqListener) bool
	removePrerequisitesListener(l taskPrereqListener) bool

	transition(to TaskState) error
	isResultDetermined() bool
	prerequisitesHandle() *Prerequisites
	attachPrerequisites(p *Prerequisites)
	execute(ctx context.Context)
	setStateChangeLogging(enabled bool)
	isSubmissionKind() bool

	smallString() string
}

// StateListener is the public, typed shape of a Task[R] state-change
// callback.
type StateListener[R any] func(task *Task[R], previous TaskState)

// PrerequisitesListener is the public, typed shape of a Task[R]
// prerequisites-change callback.
type PrerequisitesListener[R any] func(task *Task[R], previous PrerequisitesState)

// Func is the shape of a task's callable. ctx is the Processor's context,
// usable cooperatively for cancellation (spec's non-goals exclude
// preemption, so a Func that ignores ctx simply runs to completion). args
// and kwargs are the bundles frozen at submission time.
type Func[R any] func(ctx context.Context, args []any, kwargs map[string]any) (R, error)

// Task is a single unit of work: a callable plus argument bundles, a
// priority, an optional set of prerequisite tasks, and its own state
// machine. Task is safe for concurrent use; see transition for the
// locking discipline governing who may change its state.
type Task[R any] struct {
	mu sync.Mutex

	function Func[R]
	args     []any
	kwargs   map[string]any
	priority int
	seq      uint64

	prerequisites      *Prerequisites
	prereqForwardAdded bool // whether we've attached the forwarding listener

	state        TaskState
	result       R
	failingCause error

	done     chan struct{}
	doneOnce sync.Once

	stateObserver  *observer.Observer[taskStateListener]
	prereqObserver *observer.Observer[taskPrereqListener]
	prereqReleased bool
	stateReleased  bool

	// listenerMu guards stateWrappers/prereqWrappers below.
	listenerMu     sync.Mutex
	stateWrappers  map[uintptr]taskStateListener
	prereqWrappers map[uintptr]taskPrereqListener

	printStateChanges bool
	logger            zerolog.Logger
	name              string

	// submissionKind marks a task built by NewSubmissionTask: its callable
	// itself enqueues further tasks, so spec §4.7's routing sends it to a
	// Processor's daemon book regardless of which goroutine calls Submit,
	// and exempts it from the safe-submission check that would otherwise
	// reject a synchronous submission made from inside a running worker.
	submissionKind bool
}

// TaskOption configures a Task at construction time.
type TaskOption[R any] func(*Task[R])

// WithArgs sets the positional argument bundle passed to the callable.
func WithArgs[R any](args ...any) TaskOption[R] {
	return func(t *Task[R]) { t.args = args }
}

// WithKwargs sets the keyword argument bundle passed to the callable.
func WithKwargs[R any](kwargs map[string]any) TaskOption[R] {
	return func(t *Task[R]) { t.kwargs = kwargs }
}

// WithPriority sets the task's priority (larger runs earlier; ties break
// FIFO by insertion order into a Ready Book). Default 0.
func WithPriority[R any](priority int) TaskOption[R] {
	return func(t *Task[R]) { t.priority = priority }
}

// WithPrerequisites declares that task may only become Executable once
// every task in prereqs has transitioned to Successful.
func WithPrerequisites[R any](prereqs ...TaskHandle) TaskOption[R] {
	return func(t *Task[R]) {
		p := NewPrerequisites(prereqs...)
		t.attachPrerequisites(p)
	}
}

// WithPrerequisitesAggregate attaches a pre-built Prerequisites aggregate,
// e.g. one shared across a group of tasks.
func WithPrerequisitesAggregate[R any](p *Prerequisites) TaskOption[R] {
	return func(t *Task[R]) { t.attachPrerequisites(p) }
}

// WithStateChangeListener registers listener at construction time.
func WithStateChangeListener[R any](listener StateListener[R]) TaskOption[R] {
	return func(t *Task[R]) { t.AddStateChangeListener(listener) }
}

// WithPrerequisitesChangeListener registers listener at construction time.
func WithPrerequisitesChangeListener[R any](listener PrerequisitesListener[R]) TaskOption[R] {
	return func(t *Task[R]) { t.AddPrerequisitesChangeListener(listener) }
}

// WithPrintStateChanges enables logging of every state transition at debug
// level, mirroring the original source's print_state_changes flag.
func WithPrintStateChanges[R any](enabled bool) TaskOption[R] {
	return func(t *Task[R]) { t.printStateChanges = enabled }
}

// SetStateChangeLogging toggles whether this task logs every state
// transition at debug level (see WithPrintStateChanges). Unlike the other
// mutators above this is legal at any time, not only while Creating: it
// only affects what gets logged, never the task's callable, arguments,
// priority, or prerequisites, so there is no Creating-only invariant to
// protect. Groups.SetStateChangeLogging uses this to flip the flag across
// every task in a named group at once, mirroring
// TaskGroupCollection.set_print_state_change_for_group in the original
// source.
func (t *Task[R]) SetStateChangeLogging(enabled bool) {
	t.mu.Lock()
	t.printStateChanges = enabled
	t.mu.Unlock()
}

func (t *Task[R]) setStateChangeLogging(enabled bool) { t.SetStateChangeLogging(enabled) }

func (t *Task[R]) isSubmissionKind() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submissionKind
}

// WithTaskLogger overrides the logger used for WithPrintStateChanges and
// for reporting listener panics. Default is the zerolog global logger.
func WithTaskLogger[R any](logger zerolog.Logger) TaskOption[R] {
	return func(t *Task[R]) { t.logger = logger }
}

// WithName attaches a debug name used in String()/SmallString() and log
// fields. Purely cosmetic.
func WithName[R any](name string) TaskOption[R] {
	return func(t *Task[R]) { t.name = name }
}

// NewTask constructs a Task in the Creating state. function must be
// non-nil.
func NewTask[R any](function Func[R], opts ...TaskOption[R]) *Task[R] {
	if function == nil {
		panic(ErrMissingArgument)
	}

	t := &Task[R]{
		function: function,
		kwargs:   map[string]any{},
		state:    StateCreating,
		done:     make(chan struct{}),
		logger:   log.Logger,
	}
	t.stateObserver = observer.New[taskStateListener](t.logListenerPanic)
	t.prereqObserver = observer.New[taskPrereqListener](t.logListenerPanic)
	t.stateWrappers = map[uintptr]taskStateListener{}
	t.prereqWrappers = map[uintptr]taskPrereqListener{}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Task[R]) logListenerPanic(recovered any) {
	t.logger.Warn().
		Str("task", t.debugName()).
		Interface("panic", recovered).
		Msg("tasksched: listener panicked; discarding")
}

func (t *Task[R]) debugName() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("task@%p", t)
}

// attachPrerequisites wires p as this task's prerequisites and installs the
// forwarding listener that republishes p's summary-state changes on this
// task's own prerequisites-observer (so Running can sever just this
// forwarding without touching the (possibly shared) aggregate itself).
func (t *Task[R]) attachPrerequisites(p *Prerequisites) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCreating {
		panic(ErrLockedAggregate)
	}
	if t.prereqForwardAdded && t.prerequisites == p {
		return
	}
	t.prerequisites = p
	var forward prerequisitesChangeListener
	forward = func(_ *Prerequisites, previous PrerequisitesState) {
		t.mu.Lock()
		stale := t.prereqReleased || t.prerequisites != p
		t.mu.Unlock()
		if stale {
			p.removeStateChangeListener(forward)
			return
		}
		t.prereqObserver.Notify(func(l taskPrereqListener) { l(t, previous) })
	}
	p.addStateChangeListener(forward)
	t.prereqForwardAdded = true
}

// --- field accessors, mutable only while Creating ---

func (t *Task[R]) mustBeCreating(field string) {
	if t.state != StateCreating {
		panic(fmt.Errorf("%w: %q can only be changed while a task is Creating", ErrIllegalTransition, field))
	}
}

// SetFunction replaces the callable. Legal only while Creating.
func (t *Task[R]) SetFunction(fn Func[R]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeCreating("function")
	t.function = fn
}

// SetArgs replaces the positional argument bundle. Legal only while
// Creating.
func (t *Task[R]) SetArgs(args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeCreating("args")
	t.args = args
}

// SetKwargs replaces the keyword argument bundle. Legal only while
// Creating.
func (t *Task[R]) SetKwargs(kwargs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeCreating("kwargs")
	t.kwargs = kwargs
}

// SetPriority replaces the priority. Legal only while Creating.
func (t *Task[R]) SetPriority(priority int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeCreating("priority")
	t.priority = priority
}

// SetPrerequisites replaces the prerequisites aggregate. Legal only while
// Creating.
func (t *Task[R]) SetPrerequisites(prereqs ...TaskHandle) {
	t.attachPrerequisites(NewPrerequisites(prereqs...))
}

// Priority returns the task's priority.
func (t *Task[R]) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

func (t *Task[R]) sequence() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *Task[R]) setSequence(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq = seq
}

// State returns the task's current state.
func (t *Task[R]) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task[R]) prerequisitesHandle() *Prerequisites {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prerequisites
}

// Prerequisites returns the task's prerequisites aggregate, or nil if none
// was set.
func (t *Task[R]) Prerequisites() *Prerequisites {
	return t.prerequisitesHandle()
}

// IsDetermined reports whether the task has entered a terminal state.
func (t *Task[R]) IsDetermined() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task[R]) isResultDetermined() bool { return t.IsDetermined() }

// WaitForResult blocks until the task enters a terminal state or timeout
// elapses (timeout <= 0 means wait forever). It returns whether the task
// is determined when it returns.
func (t *Task[R]) WaitForResult(timeout time.Duration) bool {
	if timeout <= 0 {
		<-t.done
		return true
	}
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return t.IsDetermined()
	}
}

// Result returns the task's outcome. It fails with ErrTaskExecution if the
// task Failed (chaining the original failingCause), ErrTaskPrerequisite if
// PrerequisiteFailed, or ErrNotFinished if the task has not reached a
// terminal state.
func (t *Task[R]) Result() (R, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateSuccessful:
		return t.result, nil
	case StateFailed:
		var zero R
		return zero, newTaskExecutionError(t, t.failingCause)
	case StatePrerequisiteFailed:
		var zero R
		return zero, newTaskPrerequisiteError(t)
	default:
		var zero R
		return zero, fmt.Errorf("%w", ErrNotFinished)
	}
}

// SafeResult blocks for at most timeout (0 means forever) for the task to
// become determined, then returns Result().
func (t *Task[R]) SafeResult(timeout time.Duration) (R, error) {
	t.WaitForResult(timeout)
	return t.Result()
}

// AddStateChangeListener registers listener; re-adding an already
// registered listener is a no-op. listener's identity (for a later
// RemoveStateChangeListener call) is tracked by function-pointer, so
// callers must pass the same func value to both calls — see listenerKey.
func (t *Task[R]) AddStateChangeListener(listener StateListener[R]) {
	if listener == nil {
		return
	}
	key := listenerKey(listener)

	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	if _, ok := t.stateWrappers[key]; ok {
		return
	}
	wrapper := func(_ TaskHandle, previous TaskState) { listener(t, previous) }
	t.stateWrappers[key] = wrapper
	t.stateObserver.Add(wrapper)
}

// RemoveStateChangeListener deregisters listener.
func (t *Task[R]) RemoveStateChangeListener(listener StateListener[R]) {
	key := listenerKey(listener)

	t.listenerMu.Lock()
	wrapper, ok := t.stateWrappers[key]
	if ok {
		delete(t.stateWrappers, key)
	}
	t.listenerMu.Unlock()

	if ok {
		t.stateObserver.Remove(wrapper)
	}
}

func (t *Task[R]) addStateListener(l taskStateListener) bool    { return t.stateObserver.Add(l) }
func (t *Task[R]) removeStateListener(l taskStateListener) bool { return t.stateObserver.Remove(l) }

// AddPrerequisitesChangeListener registers listener on this task's
// prerequisites-observer. See AddStateChangeListener for the identity
// contract governing a matching RemovePrerequisitesChangeListener call.
func (t *Task[R]) AddPrerequisitesChangeListener(listener PrerequisitesListener[R]) {
	if listener == nil {
		return
	}
	key := listenerKey(listener)

	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	if _, ok := t.prereqWrappers[key]; ok {
		return
	}
	wrapper := func(_ TaskHandle, previous PrerequisitesState) { listener(t, previous) }
	t.prereqWrappers[key] = wrapper
	t.prereqObserver.Add(wrapper)
}

// RemovePrerequisitesChangeListener deregisters listener.
func (t *Task[R]) RemovePrerequisitesChangeListener(listener PrerequisitesListener[R]) {
	key := listenerKey(listener)

	t.listenerMu.Lock()
	wrapper, ok := t.prereqWrappers[key]
	if ok {
		delete(t.prereqWrappers, key)
	}
	t.listenerMu.Unlock()

	if ok {
		t.prereqObserver.Remove(wrapper)
	}
}

func (t *Task[R]) addPrerequisitesListener(l taskPrereqListener) bool {
	return t.prereqObserver.Add(l)
}

func (t *Task[R]) removePrerequisitesListener(l taskPrereqListener) bool {
	return t.prereqObserver.Remove(l)
}

// legalTransition implements the state machine in spec §4.2.
func legalTransition(from, to TaskState) bool {
	switch to {
	case StateCreating:
		return false
	case StatePrerequisitesUnfulfilled:
		return from == StateCreating
	case StateExecutable:
		return from == StateCreating || from == StatePrerequisitesUnfulfilled
	case StateRunning:
		return from == StateExecutable
	case StateSuccessful, StateFailed:
		return from == StateRunning
	case StatePrerequisiteFailed:
		return from == StateCreating || from == StatePrerequisitesUnfulfilled || from == StateExecutable
	default:
		return false
	}
}

// transition attempts to move the task to "to". Only the Ready Book
// (pre-Running transitions) and the Worker that owns the task
// (Running/terminal transitions) may call this: that exclusivity is what
// removes the need for a transition-level lock, per spec §5's locking
// discipline. transition itself still guards its small bookkeeping (state
// field, observer release flags) with Task.mu for memory safety.
func (t *Task[R]) transition(to TaskState) error {
	t.mu.Lock()
	from := t.state
	if !legalTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	if t.prerequisites != nil {
		t.prerequisites.lock()
	}
	t.state = to

	releasePrereq := to == StateRunning && !t.prereqReleased
	if releasePrereq {
		t.prereqReleased = true
	}
	releaseState := to.IsTerminal() && !t.stateReleased
	if releaseState {
		t.stateReleased = true
	}
	print := t.printStateChanges
	t.mu.Unlock()

	t.stateObserver.Notify(func(l taskStateListener) { l(t, from) })

	if print {
		t.logger.Debug().
			Str("task", t.debugName()).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("tasksched: task state changed")
	}

	if releasePrereq {
		t.prereqObserver.Clear()
	}
	if releaseState {
		t.stateObserver.Clear()
		t.doneOnce.Do(func() { close(t.done) })
	}

	return nil
}

// setResult records a successful outcome. Legal only for the Worker that
// owns the task, immediately before transitioning Running -> Successful.
func (t *Task[R]) setResult(result R) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = result
}

// setFailingCause records the callable's error. Legal only for the Worker
// that owns the task, immediately before transitioning Running -> Failed.
func (t *Task[R]) setFailingCause(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failingCause = err
}

func (t *Task[R]) callable() (Func[R], []any, map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.function, t.args, t.kwargs
}

// execute invokes the task's callable and transitions the task to its
// terminal state. Only a Worker that has already transitioned the task to
// Running may call this; it recovers a panicking callable into a Failed
// result rather than propagating the panic to the worker goroutine,
// matching spec §7's policy of never letting a task's callable bring down
// its worker.
func (t *Task[R]) execute(ctx context.Context) {
	fn, args, kwargs := t.callable()

	result, err := t.runCallable(ctx, fn, args, kwargs)
	if err != nil {
		t.setFailingCause(err)
		_ = t.transition(StateFailed)
		return
	}
	t.setResult(result)
	_ = t.transition(StateSuccessful)
}

func (t *Task[R]) runCallable(ctx context.Context, fn Func[R], args []any, kwargs map[string]any) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task callable panicked: %v", r)
		}
	}()
	return fn(ctx, args, kwargs)
}

// SmallString returns a short debug representation, mirroring small_repr
// in the original source.
func (t *Task[R]) SmallString() string {
	return t.smallString()
}

func (t *Task[R]) smallString() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	numPrereq, numFulfilled := 0, 0
	if t.prerequisites != nil {
		numPrereq = t.prerequisites.Len()
		numFulfilled = t.prerequisites.NumFulfilled()
	}

	s := fmt.Sprintf("Task(%s, prerequisites: %d/%d, state: %s", t.debugName(), numFulfilled, numPrereq, t.state)
	switch t.state {
	case StateSuccessful:
		s += fmt.Sprintf(", result: %v", t.result)
	case StateFailed:
		s += fmt.Sprintf(", failingCause: %v", t.failingCause)
	}
	return s + ")"
}

func (t *Task[R]) String() string { return t.smallString() }
