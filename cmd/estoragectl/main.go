package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"

	"estorage/internal/archive"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var primary string

	root := &cobra.Command{
		Use:          "estoragectl",
		Short:        "Inspect and unpack database bundles offline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&primary, "primary", "db.sqlite", "primary data file every bundle must contain")

	root.AddCommand(&cobra.Command{
		Use:   "inspect <bundle.zip>",
		Short: "Show the detected layout and any unsafe members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0], primary)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "extract <bundle.zip> <dir>",
		Short: "Unpack a bundle the way the server does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return extract(cmd.OutOrStdout(), args[0], args[1], primary)
		},
	})

	return root
}

func inspect(w io.Writer, path, primary string) error {
	zr, err := openBundle(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	plan, err := archive.Inspect(&zr.Reader, primary)
	fmt.Fprintf(w, "Members: %d\n", plan.Members)
	for _, n := range plan.Unsafe {
		fmt.Fprintf(w, "Unsafe:  %q\n", n)
	}
	if err != nil {
		return err
	}
	if plan.Prefix == "" {
		fmt.Fprintln(w, "Layout:  flat")
	} else {
		fmt.Fprintf(w, "Layout:  wrapped in %q\n", plan.Prefix)
	}
	if len(plan.Unsafe) > 0 {
		return fmt.Errorf("%d unsafe member(s); the server would reject this bundle", len(plan.Unsafe))
	}
	return nil
}

func extract(w io.Writer, path, dir, primary string) error {
	zr, err := openBundle(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	prefix, err := archive.DetectPrefix(archive.Names(&zr.Reader), primary)
	if err != nil {
		return err
	}
	res, err := archive.Extract(dir, &zr.Reader, prefix, primary)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Extracted %d files, %d directories (%d bytes) into %s\n", res.Files, res.Dirs, res.Bytes, dir)
	if res.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d members outside %q\n", res.Skipped, prefix)
	}
	return nil
}

func openBundle(path string) (*zip.ReadCloser, error) {
	zr, err := archive.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("bundle %s: %w", path, fs.ErrNotExist)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("bundle %s: %w", path, fs.ErrPermission)
	case err != nil:
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	return zr, nil
}
