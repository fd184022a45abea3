package features

import "sync"

// DefaultType is the extractor used when nothing else was selected.
const DefaultType = "hog"

// Settings holds the currently selected extractor and its parameters. New
// learners and background estimators start from a clone of it, so changes
// never reach sessions that already exist.
type Settings struct {
	mu      sync.RWMutex
	current Extractor
}

// NewSettings selects the extractor of type typ, or DefaultType when typ is
// empty.
func NewSettings(typ string) (*Settings, error) {
	if typ == "" {
		typ = DefaultType
	}
	e, err := New(typ)
	if err != nil {
		return nil, err
	}
	return &Settings{current: e}, nil
}

// Change replaces the selected extractor with a default instance of typ.
// The selection is unchanged on error.
func (s *Settings) Change(typ string) error {
	e, err := New(typ)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = e
	s.mu.Unlock()
	return nil
}

// Extractor returns an independent copy of the selected extractor.
func (s *Settings) Extractor() Extractor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Info returns the type and name of the selected extractor.
func (s *Settings) Info() (typ, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Type(), s.current.Name()
}

// Parameters lists the parameters of the selected extractor.
func (s *Settings) Parameters() []Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.ListParameters()
}

func (s *Settings) SetIntParam(name string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.SetIntParam(name, value)
}

func (s *Settings) SetScalarParam(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.SetScalarParam(name, value)
}

func (s *Settings) SetStringParam(name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.SetStringParam(name, value)
}
