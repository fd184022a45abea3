package repository

import "github.com/banshee-data/artos/internal/imgsrc"

// MixedIterator draws images from all synsets in turn: perSynset images
// from the first synset, then perSynset from the next one, and so on,
// wrapping around until every archive is exhausted. Only one archive is
// open at a time.
type MixedIterator struct {
	synsets   []Synset
	perSynset int
	offsets   []int
	exhausted []bool
	remaining int

	cur   int
	taken int
	it    *ImageIterator
	pos   int
}

// MixedImages returns a MixedIterator over every synset with images except
// those listed in exclude.
func (r *Repository) MixedImages(perSynset int, exclude ...string) (*MixedIterator, error) {
	all, err := r.ListSynsets()
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var synsets []Synset
	for _, s := range all {
		if s.HasImages && !skip[s.ID] {
			synsets = append(synsets, s)
		}
	}
	if perSynset < 1 {
		perSynset = 1
	}
	return &MixedIterator{
		synsets:   synsets,
		perSynset: perSynset,
		offsets:   make([]int, len(synsets)),
		exhausted: make([]bool, len(synsets)),
		remaining: len(synsets),
	}, nil
}

// Next returns the next image, or false once every synset is exhausted.
func (m *MixedIterator) Next() (SynsetImage, bool) {
	for m.remaining > 0 {
		if m.it == nil {
			m.it = m.synsets[m.cur].Images(false)
			m.it.Skip(m.offsets[m.cur])
		}
		img, ok := m.it.Next()
		if !ok {
			m.exhausted[m.cur] = true
			m.remaining--
			m.advance()
			continue
		}
		m.offsets[m.cur]++
		m.pos++
		m.taken++
		if m.taken >= m.perSynset {
			m.advance()
		}
		return img, true
	}
	return SynsetImage{}, false
}

func (m *MixedIterator) advance() {
	if m.it != nil {
		m.it.Close()
		m.it = nil
	}
	m.taken = 0
	if m.remaining == 0 {
		return
	}
	for {
		m.cur = (m.cur + 1) % len(m.synsets)
		if !m.exhausted[m.cur] {
			return
		}
	}
}

// Pos returns the number of images returned so far.
func (m *MixedIterator) Pos() int { return m.pos }

// Close releases the open archive.
func (m *MixedIterator) Close() error {
	if m.it == nil {
		return nil
	}
	err := m.it.Close()
	m.it = nil
	return err
}

// Extract writes the next image to dir. It returns false when the iterator
// is exhausted.
func (m *MixedIterator) Extract(dir string) (bool, error) {
	img, ok := m.Next()
	if !ok {
		return false, nil
	}
	_, err := img.Extract(dir)
	return true, err
}

// Decoded adapts the iterator to a stream of decoded images.
func (m *MixedIterator) Decoded() ImageStream { return ImageStream{next: m.Next} }

// Decoded adapts the iterator to a stream of decoded images.
func (it *ImageIterator) Decoded() ImageStream { return ImageStream{next: it.Next} }

// ImageStream yields decoded images of an iterator. Undecodable images come
// through as empty images.
type ImageStream struct {
	next func() (SynsetImage, bool)
}

func (s ImageStream) Next() (imgsrc.Image, bool) {
	si, ok := s.next()
	if !ok {
		return imgsrc.Image{}, false
	}
	return si.Image(), true
}
