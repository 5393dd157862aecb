package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/dispatch"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func add() *lang.Function {
	return lang.MustParse("add", []string{"a", "b"}, "a + b")
}

// newDispatcher builds a dispatcher with deterministic IDs and a counting
// compiler backend.
func newDispatcher(t *testing.T, fn *lang.Function, cfg dispatch.Config, opts ...dispatch.Option) (*dispatch.Dispatcher, *countingBackend) {
	t.Helper()
	b := &countingBackend{Service: compiler.NewService(cfg.Target)}
	opts = append([]dispatch.Option{
		dispatch.WithIDGenerator(testutil.NewFixedIDGenerator()),
		dispatch.WithBackend(b),
	}, opts...)
	d, err := dispatch.New(context.Background(), fn, cfg, opts...)
	require.NoError(t, err)
	return d, b
}

// countingBackend counts requests that were allowed to compile.
type countingBackend struct {
	*compiler.Service
	permitted atomic.Int64
}

func (b *countingBackend) Acquire(ctx context.Context, req compiler.Request) (compiler.Acquisition, error) {
	if req.Permitted {
		b.permitted.Add(1)
	}
	return b.Service.Acquire(ctx, req)
}

// recorder collects events of both kinds in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func record(t *testing.T, d *dispatch.Dispatcher) *recorder {
	r := &recorder{}
	for _, k := range []dispatch.Kind{dispatch.KindCompiled, dispatch.KindEvaluated} {
		t.Cleanup(d.Events().Subscribe(k, r.listen))
	}
	return r
}

func (r *recorder) listen(ev dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Event(nil), r.events...)
}

// count returns the number of start events of kind.
func (r *recorder) count(kind dispatch.Kind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind && ev.Phase == dispatch.PhaseStart {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// warnings collects fallback warnings.
type warnings struct {
	mu   sync.Mutex
	list []dispatch.FallbackWarning
}

func (w *warnings) Warn(fw dispatch.FallbackWarning) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.list = append(w.list, fw)
}

func (w *warnings) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.list)
}
