package geodb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// TargetDirPrefix marks the 'active' directory with database files for
	// a source. Everything else inside the base directory is ok to be
	// removed at any given moment in time.
	//
	// Suffix is generated based on a contents of the directory, so an
	// update which downloads identical content promotes into the same name
	// and becomes a no-op.
	TargetDirPrefix = "target_"

	// TempDirPrefix defines a prefix for temporary directories populated
	// during a download. A failed download leaves the current target
	// directory untouched.
	TempDirPrefix = "tmp_"
)

var errNoTargetDir = errors.New("cannot find a target dir")

// Provisioner manages the on-disk lifecycle of a single source's database:
// download into a temporary directory, promote it into a checksum-named
// target directory, open the current target for lookups.
type Provisioner struct {
	source Source
	logger zerolog.Logger
}

// Provisioned tells whether the source has a target directory on disk.
func (p *Provisioner) Provisioned() bool {
	_, err := p.targetDir()

	return err == nil
}

// Provision downloads and promotes a fresh copy of the database. When
// force is false an already provisioned source is left as is. The first
// return value tells whether the files on disk have changed.
func (p *Provisioner) Provision(ctx context.Context, force bool) (bool, error) {
	if err := os.MkdirAll(p.source.BaseDirectory(), 0o755); err != nil {
		return false, fmt.Errorf("cannot create base directory: %w", err)
	}

	currentTargetDir, err := p.targetDir()

	switch {
	case err == nil && !force:
		p.logger.Debug().
			Str("source", p.source.Name()).
			Msg("database is already provisioned")

		return false, nil
	case err != nil && !errors.Is(err, errNoTargetDir):
		return false, fmt.Errorf("cannot detect current target dir: %w", err)
	}

	tmpDir, err := ioutil.TempDir(p.source.BaseDirectory(), TempDirPrefix)
	if err != nil {
		return false, fmt.Errorf("cannot create a temporary directory: %w", err)
	}

	defer os.RemoveAll(tmpDir) // nolint: errcheck

	if err := p.source.Download(ctx, tmpDir); err != nil {
		return false, fmt.Errorf("cannot download to tmp directory: %w", err)
	}

	targetDirName, err := p.targetDirName(tmpDir)
	if err != nil {
		return false, fmt.Errorf("cannot get a target dir name: %w", err)
	}

	if targetDirName == currentTargetDir {
		p.logger.Debug().
			Str("source", p.source.Name()).
			Msg("database content has not changed")

		return false, nil
	}

	if currentTargetDir != "" {
		if err := os.RemoveAll(currentTargetDir); err != nil {
			return false, fmt.Errorf("cannot remove current target dir: %w", err)
		}
	}

	if err := os.Rename(tmpDir, targetDirName); err != nil {
		return false, fmt.Errorf("cannot rename tmp dir to target one: %w", err)
	}

	p.logger.Info().
		Str("source", p.source.Name()).
		Str("target", targetDirName).
		Msg("database was updated")

	return true, nil
}

// Open points the source at the current target directory. ErrDatabaseMissing
// is returned when the source was never provisioned.
func (p *Provisioner) Open() error {
	targetDir, err := p.targetDir()

	switch {
	case errors.Is(err, errNoTargetDir):
		return fmt.Errorf("%w: %s", ErrDatabaseMissing, p.source.Name())
	case err != nil:
		return fmt.Errorf("cannot detect target dir: %w", err)
	}

	if err := p.source.Open(targetDir); err != nil {
		return fmt.Errorf("cannot open a directory %s: %w", targetDir, err)
	}

	return nil
}

func (p *Provisioner) targetDir() (string, error) {
	infos, err := ioutil.ReadDir(p.source.BaseDirectory())

	switch {
	case os.IsNotExist(err):
		return "", errNoTargetDir
	case err != nil:
		return "", fmt.Errorf("cannot read base directory: %w", err)
	}

	for _, v := range infos {
		if v.IsDir() && strings.HasPrefix(v.Name(), TargetDirPrefix) {
			return filepath.Join(p.source.BaseDirectory(), v.Name()), nil
		}
	}

	return "", errNoTargetDir
}

func (p *Provisioner) targetDirName(rootDir string) (string, error) {
	hasher := sha256.New()
	startSign := []byte{0}
	fileSign := []byte{1}

	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		switch {
		case err != nil:
			return err
		case info.IsDir():
			return nil
		}

		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return fmt.Errorf("cannot build a relative path of %s to %s: %w",
				path,
				rootDir,
				err)
		}

		hasher.Write(startSign)         // nolint: errcheck
		io.WriteString(hasher, relPath) // nolint: errcheck

		fp, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("cannot open a file %s: %w", path, err)
		}

		defer fp.Close()

		hasher.Write(fileSign) // nolint: errcheck
		io.Copy(hasher, fp)    // nolint: errcheck

		return nil
	})

	if err != nil {
		return "", fmt.Errorf("cannot calculate a checksum: %w", err)
	}

	baseName := TargetDirPrefix + hex.EncodeToString(hasher.Sum(nil))

	return filepath.Join(p.source.BaseDirectory(), baseName), nil
}

// NewProvisioner binds a source to its on-disk lifecycle.
func NewProvisioner(source Source, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		source: source,
		logger: logger,
	}
}
