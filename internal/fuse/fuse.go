//go:build linux
// +build linux

// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/ostafen/udfkit/internal/udf/dirent"
	"github.com/ostafen/udfkit/internal/udf/icb"
	"github.com/ostafen/udfkit/internal/udf/inode"
	"github.com/ostafen/udfkit/internal/udf/udferr"
	"github.com/ostafen/udfkit/internal/udf/volume"
)

// UDFFS is the bazil.org/fuse filesystem rooted at a mounted UDF
// volume's root directory. Every node below carries only its own
// absolute path, not a cached ICB or FileEntry: each call resolves
// fresh against vol, so a concurrent rename or write elsewhere in the
// tree is always picked up rather than served from a stale copy.
type UDFFS struct {
	vol *volume.Volume
}

// NewUDFFS wraps an already-mounted volume for serving over FUSE.
func NewUDFFS(vol *volume.Volume) *UDFFS {
	return &UDFFS{vol: vol}
}

func (f *UDFFS) Root() (fs.Node, error) {
	return &dirNode{fs: f, path: "/"}, nil
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// pathNode is implemented by every node kind below, letting Link
// recover the source path of whatever fs.Node bazil hands it without
// a type switch per node kind.
type pathNode interface {
	nodePath() string
}

// fileTypeOf extracts a resolved ICB's FileType without needing the
// full inode.Attr (which requires a Device Specification EA for device
// nodes, per volume.Volume.Stat's documented gap): Lookup
// only needs to know which node type to construct.
func fileTypeOf(r *icb.ReadResult) (icb.FileType, error) {
	switch {
	case r.FileEntry != nil:
		return r.FileEntry.ICBTag.FileType, nil
	case r.ExtFile != nil:
		return r.ExtFile.ICBTag.FileType, nil
	default:
		return 0, fmt.Errorf("fuse: ICB has neither a File Entry nor an Extended File Entry")
	}
}

func nodeFor(f *UDFFS, path string, kind inode.FileKind) fs.Node {
	switch kind {
	case inode.KindDirectory:
		return &dirNode{fs: f, path: path}
	case inode.KindSymlink:
		return &symlinkNode{fs: f, path: path}
	case inode.KindBlockDevice, inode.KindCharDevice, inode.KindFIFO, inode.KindSocket:
		return &deviceNode{fs: f, path: path}
	default:
		return &fileNode{fs: f, path: path}
	}
}

func applyAttr(a *fuse.Attr, attr inode.Attr) {
	a.Mode = attr.Mode
	a.Size = attr.Size
	a.Nlink = attr.Links
	a.Uid = attr.UID
	a.Gid = attr.GID
	a.Atime = attr.ATime
	a.Mtime = attr.MTime
	a.Ctime = attr.CTime
	if attr.Kind == inode.KindBlockDevice || attr.Kind == inode.KindCharDevice {
		// classic major-in-high-byte encoding; golang.org/x/sys/unix.Mkdev
		// is the typed equivalent, left unused here since this node is
		// never reachable with a populated Device value yet (see deviceNode).
		a.Rdev = attr.Device.Major<<8 | attr.Device.Minor
	}
}

// toFuseErr maps the udferr taxonomy onto the handful of errno values
// bazil.org/fuse callers actually distinguish; anything else (including
// the write path's plain fmt.Errorf "not allocated in-ICB" messages)
// degrades to EIO rather than guessing.
func toFuseErr(err error) error {
	if err == nil {
		return nil
	}
	var uerr *udferr.Error
	if errors.As(err, &uerr) {
		switch uerr.Code {
		case udferr.NameExists:
			return fuse.Errno(syscall.EEXIST)
		case udferr.NotEmpty:
			return fuse.Errno(syscall.ENOTEMPTY)
		case udferr.BadLBN:
			return fuse.Errno(syscall.ENOENT)
		}
	}
	return fuse.Errno(syscall.EIO)
}

func direntType(fid *dirent.FID) fuse.DirentType {
	if fid.IsDirectory() {
		return fuse.DT_Dir
	}
	// The FID's Characteristics byte only ever encodes Directory among
	// the kinds fuse.DirentType distinguishes (ECMA-167 4/14.4.3); the
	// kernel will Lookup the entry if it needs the rest.
	return fuse.DT_Unknown
}

func setattr(f *UDFFS, path string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.vol.Truncate(path, int64(req.Size)); err != nil {
			return toFuseErr(err)
		}
	}
	if req.Valid.Mode() || req.Valid.Uid() || req.Valid.Gid() {
		var mode *os.FileMode
		var uid, gid *uint32
		if req.Valid.Mode() {
			m := req.Mode
			mode = &m
		}
		if req.Valid.Uid() {
			u := req.Uid
			uid = &u
		}
		if req.Valid.Gid() {
			g := req.Gid
			gid = &g
		}
		if err := f.vol.SetAttr(path, mode, uid, gid); err != nil {
			return toFuseErr(err)
		}
	}
	attr, err := f.vol.Stat(path)
	if err != nil {
		return toFuseErr(err)
	}
	applyAttr(&resp.Attr, attr)
	return nil
}

// --- directory node ---

// dirNode implements fs.Node plus the directory-shaped handle
// interfaces (lookup, listing, and every write operation bazil routes
// through a parent directory).
type dirNode struct {
	fs   *UDFFS
	path string
}

func (d *dirNode) nodePath() string { return d.path }

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.fs.vol.Stat(d.path)
	if err != nil {
		return toFuseErr(err)
	}
	applyAttr(a, attr)
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := join(d.path, name)
	result, _, err := d.fs.vol.Resolve(childPath)
	if err != nil {
		return nil, fuse.Errno(syscall.ENOENT)
	}
	ft, err := fileTypeOf(result)
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	kind, err := inode.MapFileType(ft)
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	return nodeFor(d.fs, childPath, kind), nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	fids, err := d.fs.vol.ReadDir(d.path)
	if err != nil {
		return nil, toFuseErr(err)
	}
	out := make([]fuse.Dirent, 0, len(fids))
	for _, fid := range fids {
		out = append(out, fuse.Dirent{Name: fid.Name, Type: direntType(fid)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if _, err := d.fs.vol.CreateFile(d.path, req.Name, req.Mode); err != nil {
		return nil, nil, toFuseErr(err)
	}
	node := &fileNode{fs: d.fs, path: join(d.path, req.Name)}
	return node, node, nil
}

func (d *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if _, err := d.fs.vol.Mkdir(d.path, req.Name, req.Mode); err != nil {
		return nil, toFuseErr(err)
	}
	return &dirNode{fs: d.fs, path: join(d.path, req.Name)}, nil
}

func (d *dirNode) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	if _, err := d.fs.vol.Symlink(d.path, req.NewName, req.Target); err != nil {
		return nil, toFuseErr(err)
	}
	return &symlinkNode{fs: d.fs, path: join(d.path, req.NewName)}, nil
}

// Mknod reports ENOSYS: a device/FIFO/socket special file has no
// write-side encoder in this toolkit (volume.Volume carries no
// CreateDevice counterpart to CreateFile/Mkdir/Symlink), matching
// volume.Volume.Stat's own documented device-EA gap on the read side.
func (d *dirNode) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	return nil, fuse.ENOSYS
}

func (d *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	return toFuseErr(d.fs.vol.Remove(d.path, req.Name))
}

func (d *dirNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	nd, ok := newDir.(*dirNode)
	if !ok {
		return fuse.Errno(syscall.EIO)
	}
	return toFuseErr(d.fs.vol.Rename(d.path, req.OldName, nd.path, req.NewName))
}

func (d *dirNode) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	pn, ok := old.(pathNode)
	if !ok {
		return nil, fuse.Errno(syscall.EIO)
	}
	if err := d.fs.vol.Link(pn.nodePath(), d.path, req.NewName); err != nil {
		return nil, toFuseErr(err)
	}
	return &fileNode{fs: d.fs, path: join(d.path, req.NewName)}, nil
}

func (d *dirNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(d.fs, d.path, req, resp)
}

// --- regular file node ---

type fileNode struct {
	fs   *UDFFS
	path string
}

func (n *fileNode) nodePath() string { return n.path }

func (n *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := n.fs.vol.Stat(n.path)
	if err != nil {
		return toFuseErr(err)
	}
	applyAttr(a, attr)
	return nil
}

func (n *fileNode) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	read, err := n.fs.vol.ReadFile(n.path, req.Offset, buf)
	if err != nil && read == 0 {
		return toFuseErr(err)
	}
	resp.Data = buf[:read]
	return nil
}

func (n *fileNode) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	written, err := n.fs.vol.WriteFile(n.path, req.Offset, req.Data)
	if err != nil {
		return toFuseErr(err)
	}
	resp.Size = written
	return nil
}

func (n *fileNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(n.fs, n.path, req, resp)
}

// --- symlink node ---

type symlinkNode struct {
	fs   *UDFFS
	path string
}

func (n *symlinkNode) nodePath() string { return n.path }

func (n *symlinkNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := n.fs.vol.Stat(n.path)
	if err != nil {
		return toFuseErr(err)
	}
	applyAttr(a, attr)
	return nil
}

func (n *symlinkNode) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := n.fs.vol.ReadLink(n.path)
	if err != nil {
		return "", toFuseErr(err)
	}
	return target, nil
}

// --- device / FIFO / socket node ---

// deviceNode represents a block device, character device, FIFO or
// socket special file. volume.Volume.Stat refuses to build an Attr for
// these (no Device Specification EA scanner exists anywhere in the
// tree yet), so Attr here always surfaces that same error; the type
// still gets constructed by Lookup off the ICB's FileType
// alone, ahead of that limitation, rather than being unreachable dead
// code.
type deviceNode struct {
	fs   *UDFFS
	path string
}

func (n *deviceNode) nodePath() string { return n.path }

func (n *deviceNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := n.fs.vol.Stat(n.path)
	if err != nil {
		return toFuseErr(err)
	}
	applyAttr(a, attr)
	return nil
}
