package domain

import "context"

// ChangeNotifier принимает события для real-time рассылки.
// Вызывается после фиксации транзакции; ошибка доставки не откатывает операцию.
type ChangeNotifier interface {
	Notify(ctx context.Context, event ChangeEvent) error
}

// NotifierFunc позволяет использовать функцию как ChangeNotifier.
type NotifierFunc func(ctx context.Context, event ChangeEvent) error

// Notify вызывает f.
func (f NotifierFunc) Notify(ctx context.Context, event ChangeEvent) error {
	return f(ctx, event)
}
