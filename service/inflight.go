package service

import "sync"

// InFlightSet множество ключей (участников или кортов), по которым сейчас выполняется операция.
// Проверка и вставка атомарны: из двух одновременных TryAcquire успешен ровно один.
type InFlightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlightSet создает пустое множество
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{
		ids: make(map[string]struct{}),
	}
}

// TryAcquire занимает ключ. Возвращает false, если ключ уже занят.
func (s *InFlightSet) TryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.ids[id]; busy {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Release освобождает ключ
func (s *InFlightSet) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Contains проверяет, занят ли ключ
func (s *InFlightSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.ids[id]
	return busy
}

// Len количество занятых ключей
func (s *InFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
