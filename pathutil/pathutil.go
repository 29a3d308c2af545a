// Package pathutil implements the directory-creation helper the cache relies
// on: recursively creating a directory tree while healing the case where an
// earlier cache entry occupies a path component as a plain file where a
// directory is now needed.
package pathutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Mkdirp walks from dirPath toward the root until it finds an existing
// directory, then creates the missing components bottom-up. If a path
// component already exists as a file (left behind by an earlier cache entry
// that used this path as a body, not a directory), the file is renamed aside
// and moved back in as indexName once the directory is created, so two
// fetches whose URLs are prefixes of one another (http://h/a then
// http://h/a/b) both end up cached correctly.
func Mkdirp(dirPath string, indexName string) error {
	dirPath = filepath.Clean(dirPath)
	if dirPath == "." || dirPath == string(filepath.Separator) {
		return nil
	}

	info, err := os.Stat(dirPath)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return healFileConflict(dirPath, indexName)
	}
	if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", dirPath)
	}

	parent := filepath.Dir(dirPath)
	if parent != dirPath {
		if err := Mkdirp(parent, indexName); err != nil {
			return err
		}
	}

	if err := os.Mkdir(dirPath, 0755); err != nil {
		if os.IsExist(err) {
			// Racing writer created it first; tolerate it as long as it's a
			// directory (or heal it if it's a file).
			if info, statErr := os.Stat(dirPath); statErr == nil {
				if info.IsDir() {
					return nil
				}
				return healFileConflict(dirPath, indexName)
			}
			return nil
		}
		if os.IsNotExist(err) {
			// Parent disappeared (e.g. was itself healed by a racing
			// writer between our Mkdirp(parent) call and this Mkdir); start
			// over from the top.
			return Mkdirp(dirPath, indexName)
		}
		return errors.Wrapf(err, "failed to create directory %s", dirPath)
	}
	return nil
}

// healFileConflict renames the file occupying component into a sibling
// temporary name, creates component as a directory, then moves the file back
// inside it as indexName.
func healFileConflict(component string, indexName string) error {
	tmp := filepath.Join(filepath.Dir(component), "."+filepath.Base(component)+"."+randomSuffix())
	if err := os.Rename(component, tmp); err != nil {
		if os.IsNotExist(err) {
			// Another racer already healed this conflict; nothing left to do
			// but ensure the directory now exists.
			if info, statErr := os.Stat(component); statErr == nil && info.IsDir() {
				return nil
			}
		}
		return errors.Wrapf(err, "failed to rename conflicting file %s aside", component)
	}

	if err := os.Mkdir(component, 0755); err != nil {
		if !os.IsExist(err) {
			return errors.Wrapf(err, "failed to create directory %s after healing file conflict", component)
		}
	}

	dest := filepath.Join(component, indexName)
	if err := os.Rename(tmp, dest); err != nil {
		return errors.Wrapf(err, "failed to move healed file into %s", dest)
	}
	return nil
}

func randomSuffix() string {
	return strconv.FormatUint(rand.Uint64(), 36)
}
