package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/reddyanunay/colab-coding/internal/db"
	"github.com/reddyanunay/colab-coding/internal/metrics"
)

// Saver is the part of the store the writer needs
type Saver interface {
	UpdateRoomCode(ctx context.Context, id, code string) error
}

type Config struct {
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
	}
}

// Writer persists room buffers in the background. Save never blocks the
// caller; when a room is saved again before its previous buffer was
// written, only the newest buffer is written.
type Writer struct {
	store  Saver
	log    *slog.Logger
	config Config

	mu      sync.Mutex
	pending map[string]string

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(store Saver, log *slog.Logger, config Config) *Writer {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Writer{
		store:   store,
		log:     log,
		config:  config,
		pending: make(map[string]string),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("persist.started", "write_timeout", w.config.WriteTimeout)
}

// Stop waits for the loop to exit, then writes anything still pending
func (w *Writer) Stop() {
	close(w.stop)
	w.wg.Wait()
	w.flush()
	w.log.Info("persist.stopped")
}

// Save queues code as the latest buffer of roomID
func (w *Writer) Save(roomID, code string) {
	w.mu.Lock()
	w.pending[roomID] = code
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *Writer) take() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = make(map[string]string)
	return batch
}

func (w *Writer) flush() {
	for roomID, code := range w.take() {
		w.write(roomID, code)
	}
}

func (w *Writer) write(roomID, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	err := w.store.UpdateRoomCode(ctx, roomID, code)
	switch {
	case err == nil:
		metrics.PersistWrites.Inc()
	case errors.Is(err, db.ErrNotFound):
		metrics.PersistFailures.Inc()
		w.log.Warn("persist.no_row", "room", roomID)
	default:
		metrics.PersistFailures.Inc()
		w.log.Error("persist.failed", "room", roomID, "err", err)
	}
}
