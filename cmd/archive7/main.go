// Command archive7 is a minimal driver for setting up, inspecting, and
// importing files into an archive.
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/xattr"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"

	"github.com/diskfs/archive7/archive"
	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/fsmgr"
)

// xattrOwnerName and xattrGroupName are the extended attribute names
// archive7 recognizes on import, mirroring their values into an entry's
// User/Group fields.
const (
	xattrOwnerName = "user.archive7.owner"
	xattrGroupName = "user.archive7.group"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "setup":
		err = runSetup(args)
	case "stat":
		err = runStat(args)
	case "ls":
		err = runLs(args)
	case "cat":
		err = runCat(args)
	case "mkdir":
		err = runMkdir(args)
	case "import":
		err = runImport(args)
	case "export":
		err = runExport(args)
	case "rm":
		err = runRm(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "archive7:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: archive7 <setup|stat|ls|cat|mkdir|import|export|rm> ...")
}

// deriveKey turns an arbitrary passphrase into a fixed 32-byte secret.
// Not a substitute for a real KDF; adequate for a CLI driver where the
// passphrase is already presumed high-entropy.
func deriveKey(passphrase string) (cipher.Key, error) {
	sum := sha256.Sum256([]byte(passphrase))
	return cipher.NewKey(sum[:])
}

func openArchive(fs *flag.FlagSet) (*archive.Archive, string, error) {
	path := fs.Arg(0)
	if path == "" {
		return nil, "", fmt.Errorf("missing archive path")
	}
	key, err := deriveKey(os.Getenv("ARCHIVE7_KEY"))
	if err != nil {
		return nil, "", err
	}
	log := logrus.New()
	a, err := archive.Open(path, key, archive.Options{Log: log})
	if err != nil {
		return nil, "", err
	}
	return a, path, nil
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	title := fs.String("title", "", "archive title")
	fs.Parse(args)
	path := fs.Arg(0)
	if path == "" {
		return fmt.Errorf("usage: archive7 setup [-title T] <path>")
	}
	key, err := deriveKey(os.Getenv("ARCHIVE7_KEY"))
	if err != nil {
		return err
	}
	a, err := archive.Setup(path, key, archive.Options{
		Owner: uuid.NewV4(),
		Node:  uuid.NewV4(),
		Title: *title,
	})
	if err != nil {
		return err
	}
	return a.Close()
}

func runStat(args []string) error {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	target := fs.String("entry", "/", "entry path inside the archive")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	e, err := a.Stat(*target)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%d bytes\tmode %o\n", e.ID, e.Name, e.Length, e.Perms)
	return nil
}

func runLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	target := fs.String("dir", "/", "directory path inside the archive")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	children, err := a.List(*target)
	if err != nil {
		return err
	}
	for _, c := range children {
		kind := "f"
		if c.Type == fsmgr.TypeDir {
			kind = "d"
		}
		fmt.Printf("%s %8d %s\n", kind, c.Length, c.Name)
	}
	return nil
}

func runCat(args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	target := fs.String("entry", "", "file path inside the archive")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	f, err := a.OpenFile(*target)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, &fileReader{f})
	return err
}

// fileReader adapts stream.File's fixed-size Read semantics to io.Copy.
type fileReader struct {
	f interface {
		Read([]byte) (int, error)
	}
}

func (r *fileReader) Read(b []byte) (int, error) { return r.f.Read(b) }

func runMkdir(args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	target := fs.String("dir", "", "directory path to create")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	_, err = a.Mkdir(*target)
	return err
}

func runRm(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	target := fs.String("entry", "", "entry path to remove")
	erase := fs.Bool("erase", false, "erase instead of soft-delete")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	mode := fsmgr.DeleteSoft
	if *erase {
		mode = fsmgr.DeleteErase
	}
	return a.Remove(*target, mode)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	target := fs.String("entry", "", "file path inside the archive")
	dest := fs.String("out", "", "destination host path")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()
	in, err := a.OpenFile(*target)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(*dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, &fileReader{in})
	return err
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	src := fs.String("in", "", "source host path")
	target := fs.String("entry", "", "destination path inside the archive")
	perms := fs.Uint("mode", 0o644, "permission bits")
	fs.Parse(args)
	a, _, err := openArchive(fs)
	if err != nil {
		return err
	}
	defer a.Close()

	src2, err := os.Open(*src)
	if err != nil {
		return err
	}
	defer src2.Close()

	if _, err := a.Create(*target, uint16(*perms), 0); err != nil {
		return err
	}
	out, err := a.OpenFile(*target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(&fileWriter{out}, src2); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	var modified int64
	if ts, statErr := times.Stat(*src); statErr == nil {
		modified = ts.ModTime().Unix()
	}
	names, xerr := xattr.List(*src)
	if xerr == nil {
		var user, group string
		for _, name := range names {
			val, err := xattr.Get(*src, name)
			if err != nil {
				continue
			}
			logrus.WithFields(logrus.Fields{"entry": *target, "xattr": name}).
				Debugf("archive7: captured %d bytes of extended attribute", len(val))
			switch name {
			case xattrOwnerName:
				user = string(val)
			case xattrGroupName:
				group = string(val)
			}
		}
		if user != "" || group != "" {
			if _, err := a.SetOwnership(*target, user, group); err != nil {
				return err
			}
		}
	}
	if modified != 0 {
		if _, err := a.Touch(*target, modified); err != nil {
			return err
		}
	}
	return nil
}

// fileWriter adapts stream.File's Write to io.Copy's io.Writer.
type fileWriter struct {
	f interface {
		Write([]byte) (int, error)
	}
}

func (w *fileWriter) Write(b []byte) (int, error) { return w.f.Write(b) }
