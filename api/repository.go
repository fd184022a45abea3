package api

import (
	"github.com/banshee-data/artos/internal/repository"
)

// CheckRepositoryDirectory reports whether dir is an image repository and,
// if not, what is missing.
func (t *Toolkit) CheckRepositoryDirectory(dir string) (bool, string) {
	return repository.HasRepositoryStructure(dir)
}

// ImageRepositoryType names the supported repository layout.
func (t *Toolkit) ImageRepositoryType() string { return repository.Type }

// ListSynsets writes the synsets of the repository at dir into buf. With a
// nil or empty buffer it returns the number of synsets instead.
func (t *Toolkit) ListSynsets(dir string, buf []SynsetSearchResult) (n int, st Status) {
	defer t.guard("ListSynsets", &st)
	repo, err := t.repository(dir)
	if err != nil {
		return 0, RepoInvalidRepository
	}
	if len(buf) == 0 {
		n, err := repo.NumSynsets()
		if err != nil {
			return 0, statusFromError(err, scopeRepo)
		}
		return n, OK
	}
	all, err := repo.ListSynsets()
	if err != nil {
		return 0, statusFromError(err, scopeRepo)
	}
	n = min(len(buf), len(all))
	for i := 0; i < n; i++ {
		buf[i] = synsetResult(all[i], 0)
	}
	return n, OK
}

// SearchSynsets writes at most len(buf) synsets matching phrase into buf,
// best first.
func (t *Toolkit) SearchSynsets(dir, phrase string, buf []SynsetSearchResult) (n int, st Status) {
	defer t.guard("SearchSynsets", &st)
	repo, err := t.repository(dir)
	if err != nil {
		return 0, RepoInvalidRepository
	}
	if len(buf) == 0 {
		return 0, OK
	}
	results, err := repo.SearchSynsets(phrase, len(buf))
	if err != nil {
		return 0, statusFromError(err, scopeRepo)
	}
	for i, r := range results {
		buf[i] = synsetResult(r.Synset, r.Score)
	}
	return len(results), OK
}

// ExtractImagesFromSynset writes up to maxImages images of a synset to
// outDir and returns the number of images visited.
func (t *Toolkit) ExtractImagesFromSynset(dir, synsetID, outDir string, maxImages int) (n int, st Status) {
	defer t.guard("ExtractImagesFromSynset", &st)
	repo, err := t.repository(dir)
	if err != nil {
		return 0, RepoInvalidRepository
	}
	n, err = repo.ExtractImages(synsetID, outDir, maxImages)
	return n, statusFromError(err, scopeRepo)
}

// ExtractSamplesFromSynset writes up to maxSamples annotated objects of a
// synset to outDir and returns how many were written.
func (t *Toolkit) ExtractSamplesFromSynset(dir, synsetID, outDir string, maxSamples int) (n int, st Status) {
	defer t.guard("ExtractSamplesFromSynset", &st)
	repo, err := t.repository(dir)
	if err != nil {
		return 0, RepoInvalidRepository
	}
	n, err = repo.ExtractSamples(synsetID, outDir, maxSamples)
	return n, statusFromError(err, scopeRepo)
}

// ExtractMixedImages writes numImages images to outDir, taking perSynset
// consecutive images from each synset in turn.
func (t *Toolkit) ExtractMixedImages(dir, outDir string, numImages, perSynset int) (st Status) {
	defer t.guard("ExtractMixedImages", &st)
	repo, err := t.repository(dir)
	if err != nil {
		return RepoInvalidRepository
	}
	_, err = repo.ExtractMixed(outDir, numImages, perSynset)
	return statusFromError(err, scopeRepo)
}
