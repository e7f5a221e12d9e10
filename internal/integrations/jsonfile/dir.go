// Package jsonfile reads instances and writes solutions in the JSON exchange
// format.
package jsonfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"facloc/internal/cflp"
)

// Dir is an InstanceSource over the *.json files of a directory. References
// are file names without the extension.
type Dir struct {
	Path string
}

func (d Dir) Name() string { return "jsonfile:" + d.Path }

func (d Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		refs = append(refs, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(refs)
	return refs, nil
}

func (d Dir) Fetch(ctx context.Context, ref string) (*cflp.Instance, error) {
	if strings.ContainsAny(ref, `/\`) {
		return nil, fmt.Errorf("invalid reference %q", ref)
	}
	return ReadInstance(filepath.Join(d.Path, ref+".json"))
}

// ReadInstance decodes and validates an instance file.
func ReadInstance(path string) (*cflp.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	in, err := cflp.DecodeInstance(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// ReadSolution decodes a solution file.
func ReadSolution(path string) (cflp.Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	s, err := cflp.DecodeSolution(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteSolution writes s as a JSON list, null for unassigned customers.
func WriteSolution(path string, s cflp.Solution) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
