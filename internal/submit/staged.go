package submit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/infodancer/groupmail/internal/sendas"
	"github.com/infodancer/groupmail/internal/staging"
)

// ErrNotStaged is returned when the body or an attachment is not a file of a
// single request directory below the staging root.
var ErrNotStaged = errors.New("file is not in the staging area")

// checkStaged requires the body file to be <root>/<token>/content.txt and
// every attachment to live in that same directory.
func checkStaged(root string, inv sendas.Invocation) error {
	if root == "" || !filepath.IsAbs(root) {
		return fmt.Errorf("%w: staging root %q is not an absolute path", ErrNotStaged, root)
	}
	root = filepath.Clean(root)

	body := filepath.Clean(inv.BodyFile)
	area := filepath.Dir(body)
	if !filepath.IsAbs(body) || filepath.Base(body) != staging.BodyFileName || filepath.Dir(area) != root {
		return fmt.Errorf("%w: %s", ErrNotStaged, inv.BodyFile)
	}
	if _, err := strconv.ParseInt(filepath.Base(area), 10, 64); err != nil {
		return fmt.Errorf("%w: %s", ErrNotStaged, inv.BodyFile)
	}

	fi, err := os.Lstat(area)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotStaged, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotStaged, area)
	}

	for _, a := range inv.Attachments {
		p := filepath.Clean(a)
		if filepath.Dir(p) != area || filepath.Base(p) == staging.BodyFileName {
			return fmt.Errorf("%w: %s", ErrNotStaged, a)
		}
	}
	return nil
}

// readRegular reads a regular file without following a symbolic link in the
// last path element.
func readRegular(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}
	return io.ReadAll(f)
}
