package manifest

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/mwantia/assetsync/internal/syncerr"
)

// AssetRecord is a single remote file entry. Records are treated as
// immutable once parsed; DownloadURL is filled by Resolve.
type AssetRecord struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	URI         string  `json:"uri"`
	Path        string  `json:"path"`
	MIME        string  `json:"mime"`
	Size        int64   `json:"size"`
	Created     int64   `json:"created"`
	Changed     int64   `json:"changed"`
	Scheme      string  `json:"scheme"`
	MD5         string  `json:"md5,omitempty"`
	UID         *uint32 `json:"uid,omitempty"`
	GID         *uint32 `json:"gid,omitempty"`
	Permissions string  `json:"permissions,omitempty"`

	DownloadURL string `json:"-"`

	resolveErr error
}

// Mode returns the declared permission bits, if any.
func (r *AssetRecord) Mode() (uint32, bool) {
	if r.Permissions == "" {
		return 0, false
	}
	mode, err := strconv.ParseUint(r.Permissions, 8, 32)
	if err != nil {
		return 0, false
	}
	return uint32(mode) & 0o7777, true
}

// ModeMask selects the file mode bits a record can declare.
const ModeMask = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// FileMode converts the declared permissions into an os.FileMode, including
// setuid, setgid and sticky bits.
func (r *AssetRecord) FileMode() (os.FileMode, bool) {
	mode, ok := r.Mode()
	if !ok {
		return 0, false
	}

	want := os.FileMode(mode & 0o777)
	if mode&0o4000 != 0 {
		want |= os.ModeSetuid
	}
	if mode&0o2000 != 0 {
		want |= os.ModeSetgid
	}
	if mode&0o1000 != 0 {
		want |= os.ModeSticky
	}
	return want, true
}

// HasOwnership reports whether the record declares a numeric owner or group.
func (r *AssetRecord) HasOwnership() bool {
	return r.UID != nil || r.GID != nil
}

// Manifest is the ordered set of records parsed from one source.
type Manifest struct {
	Source  string
	Records []*AssetRecord

	byPath map[string]*AssetRecord
}

type envelope struct {
	Files *[]*AssetRecord `json:"files"`
}

// Parse decodes a manifest document. Both a bare array and a
// {"files": [...]} envelope are accepted.
func Parse(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, syncerr.Newf(syncerr.KindManifest, "", "empty manifest")
	}

	var records []*AssetRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, syncerr.New(syncerr.KindManifest, "", fmt.Errorf("malformed manifest array: %w", err))
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, syncerr.New(syncerr.KindManifest, "", fmt.Errorf("malformed manifest envelope: %w", err))
		}
		if env.Files == nil {
			return nil, syncerr.Newf(syncerr.KindManifest, "", "manifest envelope has no \"files\" field")
		}
		records = *env.Files
	default:
		return nil, syncerr.Newf(syncerr.KindManifest, "", "manifest must be a JSON array or object")
	}

	return New(records)
}

// New validates records and builds the path index.
func New(records []*AssetRecord) (*Manifest, error) {
	m := &Manifest{
		Records: make([]*AssetRecord, 0, len(records)),
		byPath:  make(map[string]*AssetRecord, len(records)),
	}

	for i, rec := range records {
		if rec == nil {
			return nil, syncerr.Newf(syncerr.KindManifest, "", "entry %d is null", i)
		}
		if err := validate(rec); err != nil {
			return nil, syncerr.New(syncerr.KindManifest, rec.Path, fmt.Errorf("entry %d: %w", i, err))
		}

		key := Key(rec.Path)
		if _, exists := m.byPath[key]; exists {
			return nil, syncerr.Newf(syncerr.KindManifest, rec.Path, "duplicate relative path")
		}

		m.byPath[key] = rec
		m.Records = append(m.Records, rec)
	}

	return m, nil
}

func validate(rec *AssetRecord) error {
	if rec.Filename == "" {
		return fmt.Errorf("missing required field: filename")
	}
	if rec.URI == "" {
		return fmt.Errorf("missing required field: uri")
	}
	if rec.Path == "" {
		return fmt.Errorf("missing required field: path")
	}
	if rec.Size < 0 {
		return fmt.Errorf("negative size %d", rec.Size)
	}
	if rec.Permissions != "" {
		if _, err := strconv.ParseUint(rec.Permissions, 8, 32); err != nil {
			return fmt.Errorf("invalid octal permissions %q", rec.Permissions)
		}
	}
	return nil
}

// Lookup returns the record stored under the relative path.
func (m *Manifest) Lookup(path string) (*AssetRecord, bool) {
	rec, ok := m.byPath[Key(path)]
	return rec, ok
}

func (m *Manifest) Len() int {
	return len(m.Records)
}
