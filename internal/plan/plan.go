package plan

import (
	"sort"

	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/pkg/db/models"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoop   Action = "noop"
)

// Reason explains why an item received its action.
type Reason string

const (
	ReasonMissing  Reason = "missing"
	ReasonSize     Reason = "size"
	ReasonHash     Reason = "hash"
	ReasonChanged  Reason = "changed"
	ReasonForce    Reason = "force"
	ReasonOrphan   Reason = "orphan"
	ReasonRejected Reason = "rejected"
	ReasonRetry    Reason = "retry"
	ReasonUpToDate Reason = "up-to-date"
)

// Item is one planned operation on a single relative path.
type Item struct {
	Path   string
	Action Action
	Reason Reason

	Record *manifest.AssetRecord // nil for delete items
	State  *models.LocalState    // index entry, if any
	Local  *LocalFile            // on-disk file, if any

	// PermsDrift marks a noop whose declared mode or owner differs from disk.
	PermsDrift bool

	// Rejected items are reported as failed and never executed.
	Rejected error
}

// Transfer reports whether the item needs content to be downloaded.
func (i *Item) Transfer() bool {
	return i.Rejected == nil && (i.Action == ActionCreate || i.Action == ActionUpdate)
}

// Plan is the ordered set of items of one run. Items are sorted by path.
type Plan struct {
	Items  []*Item
	DryRun bool
}

// Counts summarizes a plan by action.
type Counts struct {
	Create   int `json:"create"`
	Update   int `json:"update"`
	Delete   int `json:"delete"`
	Noop     int `json:"noop"`
	Rejected int `json:"rejected"`
}

func (p *Plan) Counts() Counts {
	var c Counts
	for _, item := range p.Items {
		if item.Rejected != nil {
			c.Rejected++
			continue
		}
		switch item.Action {
		case ActionCreate:
			c.Create++
		case ActionUpdate:
			c.Update++
		case ActionDelete:
			c.Delete++
		case ActionNoop:
			c.Noop++
		}
	}
	return c
}

// Transfers returns the items that need a download.
func (p *Plan) Transfers() []*Item {
	return p.filter(func(i *Item) bool { return i.Transfer() })
}

// Deletes returns the orphan items.
func (p *Plan) Deletes() []*Item {
	return p.filter(func(i *Item) bool { return i.Action == ActionDelete })
}

// Rejected returns items refused before execution.
func (p *Plan) Rejected() []*Item {
	return p.filter(func(i *Item) bool { return i.Rejected != nil })
}

// Noops returns items that are already up to date.
func (p *Plan) Noops() []*Item {
	return p.filter(func(i *Item) bool { return i.Rejected == nil && i.Action == ActionNoop })
}

// Lookup returns the item for a relative path.
func (p *Plan) Lookup(path string) *Item {
	for _, item := range p.Items {
		if item.Path == path {
			return item
		}
	}
	return nil
}

func (p *Plan) filter(keep func(*Item) bool) []*Item {
	var items []*Item
	for _, item := range p.Items {
		if keep(item) {
			items = append(items, item)
		}
	}
	return items
}

func (p *Plan) sort() {
	sort.SliceStable(p.Items, func(a, b int) bool {
		return p.Items[a].Path < p.Items[b].Path
	})
}
