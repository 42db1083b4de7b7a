package clock

import (
	"sync"
	"time"
)

// Clock задаёт источник текущего времени для сервисов.
// Все значения усечены до микросекунд: такую точность хранит timestamptz,
// и сравнение expires_at <= now одинаково в памяти и в Postgres.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem возвращает часы на основе time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return normalize(time.Now())
}

type fixedClock struct {
	now time.Time
}

// NewFixed возвращает часы, всегда отдающие один и тот же момент.
func NewFixed(t time.Time) Clock {
	return fixedClock{now: normalize(t)}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Manual: часы, которые тесты двигают вручную.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual создаёт ручные часы, стоящие на t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: normalize(t)}
}

// Now возвращает текущее значение.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает часы на d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = normalize(m.now.Add(d))
	m.mu.Unlock()
}

// Set переставляет часы на t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = normalize(t)
	m.mu.Unlock()
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
