package orchestrator

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paperbench/paperbench/pkg/runrecord"
)

// stageSubmission downloads submissionDir's submission.tar.gz from the
// blob store into a collision-free host temp directory, extracts it, and
// returns the path to its nested "submission/" directory as the canonical
// submission root. Both the reproducer and the judge operate on this host
// directory; the reproducer re-uploads it into its own clean sandbox.
func stageSubmission(ctx context.Context, record *runrecord.Record, submissionDir string) (string, func(), error) {
	archivePath := record.Store.Join(submissionDir, "submission.tar.gz")
	data, err := record.Store.Read(ctx, archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", archivePath, err)
	}

	staging, err := os.MkdirTemp("", "paperbench-stage-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(staging) }

	if err := extractTarGz(data, staging); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("extracting submission archive: %w", err)
	}

	canonical := filepath.Join(staging, "submission")
	if _, err := os.Stat(canonical); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("submission archive missing top-level submission/ directory: %w", err)
	}
	return canonical, cleanup, nil
}

func extractTarGz(data []byte, dest string) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
