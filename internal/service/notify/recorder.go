package notify

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// Recorder запоминает полученные события. Используется в тестах сервисов.
type Recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	// Err возвращается из Notify, если задан.
	Err error
}

// Notify сохраняет событие.
func (r *Recorder) Notify(_ context.Context, event domain.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events возвращает копию полученных событий.
func (r *Recorder) Events() []domain.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChangeEvent(nil), r.events...)
}

// OfType возвращает события заданного типа.
func (r *Recorder) OfType(eventType domain.ChangeEventType) []domain.ChangeEvent {
	var out []domain.ChangeEvent
	for _, e := range r.Events() {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset очищает список событий.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

var _ domain.ChangeNotifier = (*Recorder)(nil)
