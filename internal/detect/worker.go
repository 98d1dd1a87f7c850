package detect

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	ctx   context.Context
	img   image.Image
	opts  Options
	reply chan result
}

type result struct {
	predictions []Prediction
	err         error
}

// Worker serializes calls into a Detector whose native handle must only be
// used from one goroutine at a time.
type Worker struct {
	det    Detector
	jobs   chan job
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

func NewWorker(det Detector, logger *zap.Logger) *Worker {
	w := &Worker{
		det:    det,
		jobs:   make(chan job),
		done:   make(chan struct{}),
		logger: logger.Named("worker"),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			if err := j.ctx.Err(); err != nil {
				j.reply <- result{err: err}
				continue
			}
			start := time.Now()
			predictions, err := w.det.Detect(j.ctx, j.img, j.opts)
			w.logger.Debug("inference done",
				zap.Duration("took", time.Since(start)),
				zap.Int("predictions", len(predictions)),
				zap.Error(err),
			)
			j.reply <- result{predictions: predictions, err: err}
		case <-w.done:
			return
		}
	}
}

func (w *Worker) Detect(ctx context.Context, img image.Image, opts Options) ([]Prediction, error) {
	reply := make(chan result, 1)
	select {
	case <-w.done:
		return nil, ErrClosed
	default:
	}
	select {
	case w.jobs <- job{ctx: ctx, img: img, opts: opts, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrClosed
	}
	select {
	case r := <-reply:
		return r.predictions, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) Device() string {
	return w.det.Device()
}

// Close stops the worker goroutine, waiting for an in-flight job, and then
// closes the wrapped detector.
func (w *Worker) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.det.Close()
	})
	return err
}
