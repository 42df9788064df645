package wim

import (
	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// AddImage registers a new image built from tree/sds, adding a reference
// to every blob its streams point at. The image's metadata resource is
// not written until Write/Overwrite.
func (w *Wim) AddImage(name string, tree *metadata.Tree, sds *metadata.SecurityDescriptorTable) (int, error) {
	if err := w.requireMutable(); err != nil {
		return -1, err
	}
	if name != "" {
		if _, _, err := w.ImageByName(name); err == nil {
			return -1, xerrors.Errorf("wim: add image %q: %w", name, wimerrors.ErrImageNameCollision)
		}
	}
	im := &ImageMetadata{Name: name, Tree: tree, SDS: sds, loaded: true}
	walkStreams(tree, func(h blobstore.Hash) { w.blobs.AddReference(h, 1) })
	w.images = append(w.images, im)
	w.header.ImageCount = uint32(len(w.images))
	if w.state == stateOpen {
		w.state = stateDirty
	}
	return len(w.images) - 1, nil
}

// DeleteImage removes image index. Without softDelete its blobs are
// released immediately and the next Overwrite takes the temp-file
// strategy unless WithSoftDelete is given. With softDelete the blobs keep
// their refcounts; no later write releases or reaps them.
func (w *Wim) DeleteImage(index int, softDelete bool) error {
	if err := w.requireMutable(); err != nil {
		return err
	}
	im, err := w.Image(index)
	if err != nil {
		return err
	}
	if !softDelete {
		if err := w.ensureImageLoaded(im); err != nil {
			return err
		}
		walkStreams(im.Tree, func(h blobstore.Hash) { w.blobs.ReleaseReference(h, 1) })
		w.pendingDeletions = true
	}
	w.images = append(w.images[:index], w.images[index+1:]...)
	w.header.ImageCount = uint32(len(w.images))
	if w.state == stateOpen {
		w.state = stateDirty
	}
	return nil
}

// ExportImage copies the srcIndex'th image of src into w under newName,
// adding references to its blobs rather than duplicating their data; the
// mechanism Split/Join and general image-copy workflows are built on, per
// add_image.c's image-export path.
func (w *Wim) ExportImage(src *Wim, srcIndex int, newName string) error {
	if err := w.requireMutable(); err != nil {
		return err
	}
	im, err := src.Image(srcIndex)
	if err != nil {
		return err
	}
	if err := src.ensureImageLoaded(im); err != nil {
		return err
	}
	if newName != "" {
		if _, _, err := w.ImageByName(newName); err == nil {
			return xerrors.Errorf("wim: export image %q: %w", newName, wimerrors.ErrImageNameCollision)
		}
	}

	walkStreams(im.Tree, func(h blobstore.Hash) {
		if b, ok := src.blobs.Lookup(h); ok {
			if existing, ok := w.blobs.Lookup(h); ok {
				existing.Refcnt++
				return
			}
			copyB := *b
			copyB.Refcnt = 1
			w.blobs.Insert(&copyB)
		}
	})

	copyTree := &metadata.Tree{Root: im.Tree.Root}
	w.images = append(w.images, &ImageMetadata{Name: newName, Tree: copyTree, SDS: im.SDS, loaded: true})
	w.header.ImageCount = uint32(len(w.images))
	if w.state == stateOpen {
		w.state = stateDirty
	}
	return nil
}

// walkStreams calls yield once for every non-zero stream hash reachable
// from tree, covering every file and directory recursively.
func walkStreams(tree *metadata.Tree, yield func(blobstore.Hash)) {
	if tree == nil || tree.Root == nil {
		return
	}
	var walk func(d *metadata.Dentry)
	walk = func(d *metadata.Dentry) {
		for _, s := range d.Streams {
			if s.Hash != blobstore.ZeroHash {
				yield(s.Hash)
			}
		}
		for _, c := range d.Children {
			walk(c)
		}
	}
	walk(tree.Root)
}
