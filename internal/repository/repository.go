// Package repository reads ImageNet-style image repositories.
//
// A repository root contains
//
//	synset_wordlist.txt       one "<synset id> <description>" per line
//	Images/<id>.tar           the JPEG images of a synset
//	Annotation/<id>.tar.gz    Pascal-VOC bounding boxes, one XML per image
//
// The word list is indexed in sqlite so that synsets can be listed, looked
// up and searched without rereading it.
package repository

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/artos/internal/db"
	"github.com/banshee-data/artos/internal/monitoring"
)

// Type is the repository flavour implemented by this package.
const Type = "ImageNet"

const (
	wordListFile  = "synset_wordlist.txt"
	imagesDir     = "Images"
	annotationDir = "Annotation"
)

var (
	// ErrInvalidRepository is returned when the root lacks the expected layout.
	ErrInvalidRepository = errors.New("invalid image repository")
	// ErrSynsetNotFound is returned for an id that is not in the word list.
	ErrSynsetNotFound = errors.New("synset not found")
)

// HasRepositoryStructure reports whether root looks like a repository. When
// it does not, the second result says what is missing.
func HasRepositoryStructure(root string) (bool, string) {
	if root == "" {
		return false, "no repository directory given"
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", root)
	}
	if fi, err := os.Stat(filepath.Join(root, imagesDir)); err != nil || !fi.IsDir() {
		return false, fmt.Sprintf("missing %s directory", imagesDir)
	}
	if fi, err := os.Stat(filepath.Join(root, annotationDir)); err != nil || !fi.IsDir() {
		return false, fmt.Sprintf("missing %s directory", annotationDir)
	}
	if fi, err := os.Stat(filepath.Join(root, wordListFile)); err != nil || fi.IsDir() {
		return false, fmt.Sprintf("missing %s", wordListFile)
	}
	return true, ""
}

// Options configure Open.
type Options struct {
	// IndexPath is the sqlite file of the synset index. Empty or ":memory:"
	// keeps the index in memory for the lifetime of the Repository.
	IndexPath string
	Debug     bool
}

// Repository is an opened image repository.
type Repository struct {
	root  string
	index *db.DB
	log   monitoring.ComponentLogger
}

// Open checks the layout of root and loads its synset index, rebuilding
// the index when the word list changed since it was written.
func Open(root string, opts Options) (*Repository, error) {
	if ok, msg := HasRepositoryStructure(root); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRepository, msg)
	}
	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = ":memory:"
	}
	index, err := db.NewDB(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open synset index: %w", err)
	}
	r := &Repository{
		root:  root,
		index: index,
		log:   monitoring.Component("Repository", "", opts.Debug),
	}
	if err := r.refreshIndex(); err != nil {
		index.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the index database.
func (r *Repository) Close() error { return r.index.Close() }

// Root returns the repository directory.
func (r *Repository) Root() string { return r.root }

// Index exposes the synset index, e.g. for admin views.
func (r *Repository) Index() *db.DB { return r.index }

func (r *Repository) wordListSignature() (string, error) {
	fi, err := os.Stat(filepath.Join(r.root, wordListFile))
	if err != nil {
		return "", err
	}
	abs, _ := filepath.Abs(r.root)
	return fmt.Sprintf("%s|%d|%d", abs, fi.Size(), fi.ModTime().UnixNano()), nil
}

func (r *Repository) refreshIndex() error {
	defer r.log.Timed("index")()
	sig, err := r.wordListSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRepository, err)
	}
	if stored, err := r.index.Meta("wordlist"); err == nil && stored == sig {
		r.log.Debugf("synset index is current")
		return nil
	}

	rows, err := r.readWordList()
	if err != nil {
		return err
	}
	if err := r.index.ReplaceSynsets(rows); err != nil {
		return fmt.Errorf("failed to write synset index: %w", err)
	}
	if err := r.index.SetMeta("wordlist", sig); err != nil {
		return fmt.Errorf("failed to write synset index: %w", err)
	}
	r.log.Printf("indexed %d synsets from %s", len(rows), r.root)
	return nil
}

func (r *Repository) readWordList() ([]db.SynsetRow, error) {
	f, err := os.Open(filepath.Join(r.root, wordListFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRepository, err)
	}
	defer f.Close()

	var rows []db.SynsetRow
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, desc := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			id, desc = line[:i], line[i+1:]
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, db.SynsetRow{
			ID:             id,
			Description:    strings.TrimSpace(desc),
			Position:       len(rows),
			HasImages:      fileExists(r.imagesPath(id)),
			HasAnnotations: fileExists(r.annotationsPath(id)),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}
	return rows, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func (r *Repository) imagesPath(id string) string {
	return filepath.Join(r.root, imagesDir, id+".tar")
}

func (r *Repository) annotationsPath(id string) string {
	return filepath.Join(r.root, annotationDir, id+".tar.gz")
}

// Synset is one word list entry.
type Synset struct {
	ID          string
	Description string
	// HasImages reports whether an image archive exists.
	HasImages bool
	// HasAnnotations reports whether a bounding box archive exists.
	HasAnnotations bool

	repo     *Repository
	position int
}

func (r *Repository) synsetFromRow(row db.SynsetRow) Synset {
	return Synset{
		ID:             row.ID,
		Description:    row.Description,
		HasImages:      row.HasImages,
		HasAnnotations: row.HasAnnotations,
		repo:           r,
		position:       row.Position,
	}
}

// NumSynsets returns the number of word list entries.
func (r *Repository) NumSynsets() (int, error) { return r.index.CountSynsets() }

// ListSynsets returns every synset in word list order.
func (r *Repository) ListSynsets() ([]Synset, error) {
	rows, err := r.index.Synsets()
	if err != nil {
		return nil, err
	}
	out := make([]Synset, len(rows))
	for i, row := range rows {
		out[i] = r.synsetFromRow(row)
	}
	return out, nil
}

// GetSynset looks up a synset by id.
func (r *Repository) GetSynset(id string) (Synset, error) {
	row, ok, err := r.index.Synset(id)
	if err != nil {
		return Synset{}, err
	}
	if !ok {
		return Synset{}, fmt.Errorf("%w: %s", ErrSynsetNotFound, id)
	}
	return r.synsetFromRow(row), nil
}
