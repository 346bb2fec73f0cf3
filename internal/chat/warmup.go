package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/metrics"
)

const (
	warmWorkers   = 2
	warmQueueSize = 8
	warmWindow    = 5 * time.Minute
	warmTimeout   = 2 * time.Minute
)

// warmer pre-loads models into engine memory ahead of the first message.
// Requests are queued to a small worker pool; a full queue drops the
// request, and failures are logged and dropped. A model warmed within
// the trailing window is not warmed again.
type warmer struct {
	engine domain.LocalEngine
	log    zerolog.Logger

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	warmed map[string]time.Time
}

func newWarmer(engine domain.LocalEngine, log zerolog.Logger) *warmer {
	w := &warmer{
		engine: engine,
		log:    log,
		queue:  make(chan string, warmQueueSize),
		stop:   make(chan struct{}),
		warmed: make(map[string]time.Time),
	}
	w.wg.Add(warmWorkers)
	for i := 0; i < warmWorkers; i++ {
		go w.worker()
	}
	return w
}

// enqueue requests a warm-up. Never blocks: a full queue or recently
// warmed model drops the request.
func (w *warmer) enqueue(model string) {
	if w.isWarm(model) {
		return
	}
	select {
	case w.queue <- model:
	default:
		w.log.Debug().Str("model", model).Msg("warm queue full, dropping request")
	}
}

func (w *warmer) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case model := <-w.queue:
			if w.isWarm(model) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
			err := w.engine.Warm(ctx, model)
			cancel()
			if err != nil {
				metrics.WarmupsTotal.WithLabelValues("failure").Inc()
				w.log.Debug().Err(err).Str("model", model).Msg("warm-up failed")
				continue
			}
			metrics.WarmupsTotal.WithLabelValues("success").Inc()
			w.markWarm(model)
		}
	}
}

// isWarm reports whether the model was warmed within the window.
// Expired entries are evicted on check.
func (w *warmer) isWarm(model string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.warmed[model]
	if !ok {
		return false
	}
	if time.Since(at) > warmWindow {
		delete(w.warmed, model)
		return false
	}
	return true
}

func (w *warmer) markWarm(model string) {
	w.mu.Lock()
	w.warmed[model] = time.Now()
	w.mu.Unlock()
}

func (w *warmer) close() {
	close(w.stop)
	w.wg.Wait()
}
