package archive

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/fsmgr"
)

// FsckReport collects every inconsistency found by Fsck, rather than
// aborting at the first one.
type FsckReport struct {
	DanglingListings []uuid.UUID // listing items with no matching entry
	OrphanPaths      []uuid.UUID // path-tree entries whose target id doesn't exist
	LeakedPages      []int32     // allocated pages reachable from no stream's block chain
	Problems         []string
}

func (r *FsckReport) Clean() bool {
	return len(r.DanglingListings) == 0 && len(r.OrphanPaths) == 0 &&
		len(r.LeakedPages) == 0 && len(r.Problems) == 0
}

// checkPageAccounting marks every page reachable from some stream's
// block chain (including the trash stream itself) in a bitset sized to
// the pager's current page count, then reports any allocated page that
// chain walking never touched: a block the trash stream forgot and no
// live stream references, i.e. a leak rather than a corruption.
func (a *Archive) checkPageAccounting(report *FsckReport) error {
	total := a.dm.PageCount()
	seen := bitset.New(uint(total))

	descs, err := a.dm.AllDescriptors()
	if err != nil {
		return err
	}
	for _, d := range descs {
		if err := a.dm.WalkChain(d, func(idx int32) bool {
			seen.Set(uint(idx))
			return true
		}); err != nil {
			return err
		}
	}

	for i := uint(0); i < uint(total); i++ {
		if !seen.Test(i) {
			report.LeakedPages = append(report.LeakedPages, int32(i))
		}
	}
	return nil
}

// Fsck walks the entire hierarchy from the root, verifying that every
// listing reference resolves to a live entry and that every directory's
// listing is internally consistent with its children's recorded parent.
func (a *Archive) Fsck() (FsckReport, error) {
	val, err := a.exec.do(func() (interface{}, error) {
		var report FsckReport
		seen := make(map[uuid.UUID]bool)
		byPath := make(map[string]uuid.UUID)

		err := a.fs.TraverseHierarchy(fsmgr.RootID, func(e fsmgr.Entry, path string) bool {
			if e.Type == fsmgr.TypeErr {
				report.DanglingListings = append(report.DanglingListings, e.ID)
				return true
			}
			seen[e.ID] = true
			byPath[path] = e.ID
			if e.ID != fsmgr.RootID {
				listedUnder := byPath[path[:strings.LastIndex(path, "/")]]
				if e.Parent != listedUnder {
					report.Problems = append(report.Problems, fmt.Sprintf("entry %s records parent %s but is listed under %s", e.ID, e.Parent, listedUnder))
				}
			}
			return true
		})
		if err != nil {
			return report, err
		}
		if err := a.checkPageAccounting(&report); err != nil {
			return report, err
		}
		return report, nil
	})
	if err != nil {
		return FsckReport{}, err
	}
	return val.(FsckReport), nil
}
