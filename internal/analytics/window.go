package analytics

import "sync"

// Window кольцевой буфер фиксированной емкости: при переполнении
// вытесняется самый старый элемент. Не потокобезопасен.
type Window[T any] struct {
	values []T
	size   int
	index  int
	count  int
}

// NewWindow создает окно заданной емкости
func NewWindow[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{
		values: make([]T, size),
		size:   size,
	}
}

// Push добавляет элемент; возвращает вытесненный элемент, если окно было заполнено
func (w *Window[T]) Push(v T) (evicted T, ok bool) {
	if w.count >= w.size {
		evicted, ok = w.values[w.index], true
	} else {
		w.count++
	}
	w.values[w.index] = v
	w.index = (w.index + 1) % w.size
	return evicted, ok
}

// Len количество элементов в окне
func (w *Window[T]) Len() int {
	return w.count
}

// Cap емкость окна
func (w *Window[T]) Cap() int {
	return w.size
}

// At возвращает i-й элемент в порядке вставки (0 - самый старый)
func (w *Window[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= w.count {
		return zero, false
	}
	start := (w.index - w.count + w.size) % w.size
	return w.values[(start+i)%w.size], true
}

// Items копия элементов от старого к новому
func (w *Window[T]) Items() []T {
	out := make([]T, 0, w.count)
	for i := 0; i < w.count; i++ {
		v, _ := w.At(i)
		out = append(out, v)
	}
	return out
}

// Newest копия элементов от нового к старому
func (w *Window[T]) Newest() []T {
	out := make([]T, 0, w.count)
	for i := w.count - 1; i >= 0; i-- {
		v, _ := w.At(i)
		out = append(out, v)
	}
	return out
}

// Clear очищает окно
func (w *Window[T]) Clear() {
	var zero T
	for i := range w.values {
		w.values[i] = zero
	}
	w.index = 0
	w.count = 0
}

// BoundedView потокобезопасное представление последних N элементов,
// отдаваемое слою представления от нового к старому
type BoundedView[T any] struct {
	mu     sync.RWMutex
	window *Window[T]
}

// NewBoundedView создает представление емкости n
func NewBoundedView[T any](n int) *BoundedView[T] {
	return &BoundedView[T]{window: NewWindow[T](n)}
}

// Insert добавляет элементы в порядке поступления
func (v *BoundedView[T]) Insert(items ...T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, it := range items {
		v.window.Push(it)
	}
}

// Replace заменяет содержимое; items задаются от нового к старому,
// как их отдает pull-эндпоинт
func (v *BoundedView[T]) Replace(newestFirst []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window.Clear()
	for i := len(newestFirst) - 1; i >= 0; i-- {
		v.window.Push(newestFirst[i])
	}
}

// Items копия содержимого от нового к старому
func (v *BoundedView[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.window.Newest()
}

// Len количество элементов
func (v *BoundedView[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.window.Len()
}

// Cap емкость
func (v *BoundedView[T]) Cap() int {
	return v.window.Cap()
}

// Clear очищает представление
func (v *BoundedView[T]) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window.Clear()
}
