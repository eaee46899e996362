package record

// CommitMeta is the persisted description of an applied commit.
//
// Inserted and Updated list the OIDs a snapshot was written for, in
// submission order; Deleted lists the OIDs tombstoned. Every OID a commit
// touched has exactly one snapshot at Timestamp.
type CommitMeta struct {
	Timestamp int64    `json:"timestamp"`
	Revision  string   `json:"revision"`
	Parent    string   `json:"parent,omitempty"`
	Committer string   `json:"committer"`
	Context   string   `json:"context"`
	Comment   string   `json:"comment,omitempty"`
	Inserted  []string `json:"inserted"`
	Updated   []string `json:"updated"`
	Deleted   []string `json:"deleted"`
}

// Touches reports whether the commit wrote a snapshot for oid.
func (m CommitMeta) Touches(oid string) bool {
	for _, list := range [][]string{m.Inserted, m.Updated, m.Deleted} {
		for _, o := range list {
			if o == oid {
				return true
			}
		}
	}
	return false
}

// OIDs returns every OID the commit touched: inserts, updates, then deletes.
func (m CommitMeta) OIDs() []string {
	out := make([]string, 0, len(m.Inserted)+len(m.Updated)+len(m.Deleted))
	out = append(out, m.Inserted...)
	out = append(out, m.Updated...)
	out = append(out, m.Deleted...)
	return out
}

// Normalize replaces nil lists with empty ones so encoded commits never
// contain null.
func (m CommitMeta) Normalize() CommitMeta {
	if m.Inserted == nil {
		m.Inserted = []string{}
	}
	if m.Updated == nil {
		m.Updated = []string{}
	}
	if m.Deleted == nil {
		m.Deleted = []string{}
	}
	return m
}
