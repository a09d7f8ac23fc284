package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// sidecarSuffixes are the files the extraction tool writes next to an
// artifact.
var sidecarSuffixes = []string{".info.json", ".description"}

// Cleanup removes an artifact and its sidecars, both the
// "<file>.info.json" and the "<stem>.info.json" forms. Failures are
// logged and otherwise ignored.
func Cleanup(path string) {
	if path == "" {
		return
	}
	for _, p := range artifactFiles(path) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithField("path", p).Warnf("transfer: cleanup failed: %v", err)
		}
	}
}

func artifactFiles(path string) []string {
	files := []string{path}
	for _, s := range sidecarSuffixes {
		files = append(files, path+s)
	}
	if stem := strings.TrimSuffix(path, filepath.Ext(path)); stem != path {
		for _, s := range sidecarSuffixes {
			files = append(files, stem+s)
		}
	}
	return files
}

// removeWorkDir drops a job's scratch directory, including partial
// downloads the tool left behind.
func removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.WithField("path", dir).Warnf("transfer: remove work dir: %v", err)
	}
}
