// Package template loads the reference template, the labeled atlas and the
// label table through an injected asset Provider.
package template

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Asset names relative to the provider root.
const (
	AtlasName      = "cerebra/mni_icbm152_CerebrA_tal_nlin_sym_09c.nii"
	LabelTableName = "cerebra/CerebrA_LabelDetails.csv"
)

// TemplateName returns the MNI ICBM152 2009c asset for a contrast, in its
// brain-extracted version when bet is set.
func TemplateName(contrast string, bet bool) string {
	betstr := ""
	if bet {
		betstr = "bet"
	}
	return fmt.Sprintf("icbm152/mni_icbm152_%s%s_tal_nlin_sym_09c.nii", contrast, betstr)
}

// Provider gives access to bundled assets by slash-separated name.
type Provider interface {
	Open(name string) (io.ReadCloser, error)

	// Locate describes where name is looked up, for messages.
	Locate(name string) string
}

// FSProvider serves assets from an fs.FS. A missing ".nii" asset is also
// looked up with a ".gz" suffix.
type FSProvider struct {
	fsys fs.FS
	root string
}

// NewDirProvider serves assets from a directory on disk.
func NewDirProvider(root string) *FSProvider {
	return &FSProvider{fsys: os.DirFS(root), root: root}
}

// NewFSProvider serves assets from fsys; label is used in messages.
func NewFSProvider(fsys fs.FS, label string) *FSProvider {
	return &FSProvider{fsys: fsys, root: label}
}

func (p *FSProvider) Open(name string) (io.ReadCloser, error) {
	name = path.Clean(name)
	f, err := p.fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) && strings.HasSuffix(name, ".nii") {
		f, err = p.fsys.Open(name + ".gz")
	}
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", p.Locate(name), err)
	}
	return f, nil
}

func (p *FSProvider) Locate(name string) string {
	return path.Join(p.root, name)
}
