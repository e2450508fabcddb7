package store

import (
	"fmt"
	"sync"

	"github.com/dunamismax/variantforge/internal/domain"
)

// InputStore keeps input images in the order the user added them. The
// position of an image is the ordinal used by the {index} filename token.
type InputStore struct {
	mu     sync.RWMutex
	inputs []domain.InputImage
}

func NewInputStore() *InputStore {
	return &InputStore{}
}

func (s *InputStore) Add(img domain.InputImage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.inputs {
		if existing.ID == img.ID {
			return 0, fmt.Errorf("input image %q already exists", img.ID)
		}
	}
	s.inputs = append(append([]domain.InputImage(nil), s.inputs...), img)
	return len(s.inputs) - 1, nil
}

func (s *InputStore) Get(id string) (domain.InputImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.inputs {
		if img.ID == id {
			return img, true
		}
	}
	return domain.InputImage{}, false
}

// IndexOf returns the current ordinal of an input image.
func (s *InputStore) IndexOf(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, img := range s.inputs {
		if img.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (s *InputStore) List() []domain.InputImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.InputImage(nil), s.inputs...)
}

func (s *InputStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, img := range s.inputs {
		if img.ID != id {
			continue
		}
		next := make([]domain.InputImage, 0, len(s.inputs)-1)
		next = append(next, s.inputs[:i]...)
		next = append(next, s.inputs[i+1:]...)
		s.inputs = next
		return nil
	}
	return domain.InputNotFound(id)
}
