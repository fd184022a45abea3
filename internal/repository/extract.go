package repository

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/banshee-data/artos/internal/security"
)

// ErrOutputDirNotFound is returned when an extraction target is not a directory.
var ErrOutputDirNotFound = errors.New("output directory not found")

func checkOutputDir(dir string) error {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrOutputDirNotFound, dir)
	}
	return nil
}

// ExtractImages writes up to maxImages images of a synset to outDir as
// <filename>.jpg and returns how many images were visited.
func (r *Repository) ExtractImages(synsetID, outDir string, maxImages int) (int, error) {
	if err := checkOutputDir(outDir); err != nil {
		return 0, err
	}
	s, err := r.GetSynset(synsetID)
	if err != nil {
		return 0, err
	}
	it := s.Images(false)
	defer it.Close()
	for it.Pos() < maxImages {
		img, ok := it.Next()
		if !ok {
			break
		}
		if _, err := img.Extract(outDir); err != nil {
			r.log.Printf("failed to extract %s: %v", img.Filename, err)
		}
	}
	return it.Pos(), it.Err()
}

// ExtractSamples crops the annotated objects of a synset and writes up to
// maxSamples of them to outDir as <filename>_<n>.jpg, n counting from 1 per
// image.
func (r *Repository) ExtractSamples(synsetID, outDir string, maxSamples int) (int, error) {
	if err := checkOutputDir(outDir); err != nil {
		return 0, err
	}
	s, err := r.GetSynset(synsetID)
	if err != nil {
		return 0, err
	}
	it := s.Images(true)
	defer it.Close()
	count := 0
	for count < maxSamples {
		img, ok := it.Next()
		if !ok {
			break
		}
		for i, sample := range img.Samples() {
			if count >= maxSamples {
				break
			}
			p, err := security.OutputPath(outDir, img.Filename, "_"+strconv.Itoa(i+1)+".jpg")
			if err != nil {
				return count, err
			}
			if err := sample.Save(p); err != nil {
				return count, fmt.Errorf("failed to write sample %s: %w", p, err)
			}
			count++
		}
	}
	return count, it.Err()
}

// ExtractMixed writes up to num images drawn perSynset at a time from all
// synsets to outDir and returns how many were written.
func (r *Repository) ExtractMixed(outDir string, num, perSynset int) (int, error) {
	if err := checkOutputDir(outDir); err != nil {
		return 0, err
	}
	m, err := r.MixedImages(perSynset)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	written := 0
	for m.Pos() < num {
		ok, err := m.Extract(outDir)
		if !ok {
			break
		}
		if err != nil {
			r.log.Printf("failed to extract mixed image: %v", err)
			continue
		}
		written++
	}
	return written, nil
}
