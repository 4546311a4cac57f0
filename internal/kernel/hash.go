package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Domain prefixes for content-addressed identity. The version suffix
// permits future algorithm migration without colliding with old records.
const (
	HashDomainRevision = "loopline/revision/v1"
	HashDomainState    = "loopline/search-state/v1"
	HashDomainRun      = "loopline/run/v1"
	HashDomainQuery    = "loopline/oracle-query/v1"
)

// HashWithDomain computes SHA-256 over domain || 0x00 || data. The null
// separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalBody returns the canonical JSON of the revision: the exact
// bytes Hash is computed over. The store persists it for audit and
// trace read-back.
func (k *Kernel) CanonicalBody() ([]byte, error) {
	return MarshalCanonical(k.canonicalMap())
}

// Hash returns the content-addressed hash of the kernel revision. Two
// structurally identical revisions hash identically regardless of how
// they were constructed.
func (k *Kernel) Hash() string {
	canonical, err := k.CanonicalBody()
	if err != nil {
		// The canonical map is built entirely from strings, ints and
		// bools below; a marshal failure is a programming error.
		panic("kernel: canonical marshal of revision failed: " + err.Error())
	}
	return HashWithDomain(HashDomainRevision, canonical)
}

func (k *Kernel) canonicalMap() map[string]any {
	inames := make(map[string]any, len(k.Inames))
	for n, in := range k.Inames {
		inames[n] = map[string]any{"tag": in.Tag.String()}
	}

	domains := make([]any, len(k.Domains))
	for i := range k.Domains {
		domains[i] = k.Domains[i].canonicalMap()
	}

	temps := make(map[string]any, len(k.Temporaries))
	for n, t := range k.Temporaries {
		temps[n] = map[string]any{"scope": t.Scope.String()}
	}

	insns := make([]any, len(k.Instructions))
	for i := range k.Instructions {
		insns[i] = k.Instructions[i].canonicalMap()
	}

	return map[string]any{
		"name":         k.Name,
		"parameters":   sortedCopy(k.Parameters),
		"inames":       inames,
		"domains":      domains,
		"temporaries":  temps,
		"instructions": insns,
		"revision":     k.Revision,
	}
}

func (d *Domain) canonicalMap() map[string]any {
	rows := make([]any, len(d.Constraints))
	for i, c := range d.Constraints {
		terms := make(map[string]any, len(c.Expr.Terms))
		for v, coeff := range c.Expr.Terms {
			terms[v] = coeff
		}
		rows[i] = map[string]any{
			"const":    c.Expr.Const,
			"terms":    terms,
			"equality": c.Equality,
		}
	}
	return map[string]any{
		"inames":      append([]string(nil), d.Inames...),
		"params":      sortedCopy(d.Params),
		"constraints": rows,
	}
}

func (in *Instruction) canonicalMap() map[string]any {
	atomic := make(map[string]any, len(in.Atomic))
	for v, a := range in.Atomic {
		atomic[v] = a.String()
	}
	m := map[string]any{
		"id":              in.ID,
		"within":          sortedCopy(in.Within),
		"depends_on":      sortedCopy(in.DependsOn),
		"priority":        in.Priority,
		"no_sync_with":    sortedCopy(in.NoSyncWith),
		"groups":          sortedCopy(in.Groups),
		"conflict_groups": sortedCopy(in.ConflictsWithGroups),
		"reads":           sortedCopy(in.Reads),
		"writes":          sortedCopy(in.Writes),
		"atomic":          atomic,
		"nest_order":      append([]string(nil), in.NestOrder...),
		"expr":            in.Expr,
		"origin":          in.Origin,
	}
	if in.Reduction != nil {
		m["reduction"] = in.Reduction.canonicalMap()
	}
	return m
}

func (r *Reduction) canonicalMap() map[string]any {
	m := map[string]any{
		"operator": r.Operator,
		"inames":   append([]string(nil), r.Inames...),
		"expr":     r.Expr,
	}
	if r.Inner != nil {
		m["inner"] = r.Inner.canonicalMap()
	}
	return m
}

func sortedCopy(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}
