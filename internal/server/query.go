package server

import (
	"context"
	"strings"

	"github.com/gobwas/glob"

	"dicomcore/internal/dicom"
	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// Constraint is one filter of a lookup. Values are combined with OR for
// Equal and Wildcard; the order kinds use only the first value.
type Constraint struct {
	Tag           dicom.Tag
	Kind          index.ConstraintKind
	Values        []string
	CaseSensitive bool

	// Mandatory makes resources without the tag fail the constraint.
	// Optional constraints let them pass.
	Mandatory bool
}

// LookupOptions target one level and optionally bound and enrich the result.
type LookupOptions struct {
	Level             domain.ResourceType
	Limit             int
	RetrieveInstances bool
}

// LookupResult is one matching resource; InstancePublicID is filled only
// when RetrieveInstances was requested and the resource has at least one
// instance below it.
type LookupResult struct {
	PublicID         string
	InstancePublicID string
}

type compiledConstraint struct {
	Constraint
	level      domain.ResourceType
	identifier bool
}

// Lookup filters the store against a list of tag constraints and returns
// the matching public IDs at the requested level. Identifier constraints
// run against the database index on normalized values; other main-tag
// constraints are filtered in memory.
func (s *ServerIndex) Lookup(ctx context.Context, constraints []Constraint,
	opts LookupOptions) ([]LookupResult, error) {
	if !opts.Level.IsValid() {
		return nil, domain.Errorf(domain.ErrParameterOutOfRange, "invalid query level")
	}

	compiled := make([]compiledConstraint, 0, len(constraints))
	upper, lower := opts.Level, opts.Level
	for _, c := range constraints {
		info, known := dicom.LookupTag(c.Tag)
		if !known {
			return nil, domain.Errorf(domain.ErrParameterOutOfRange,
				"tag %s is not indexed", c.Tag)
		}
		level := info.Level
		// Patient tags are duplicated at study level, so any query below
		// the patient level resolves them there.
		if level == domain.ResourceTypePatient && opts.Level != domain.ResourceTypePatient {
			level = domain.ResourceTypeStudy
		}
		compiled = append(compiled, compiledConstraint{
			Constraint: c,
			level:      level,
			identifier: dicom.IsIdentifierTag(c.Tag, level),
		})
		if level < upper {
			upper = level
		}
		if level > lower {
			lower = level
		}
	}

	var results []LookupResult
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		candidates, err := tx.GetAllInternalIDs(upper)
		if err != nil {
			return err
		}
		for level := upper; ; level++ {
			if candidates, err = filterLevel(tx, candidates, compiled, level); err != nil {
				return err
			}
			if level == lower {
				break
			}
			if candidates, err = descend(tx, candidates); err != nil {
				return err
			}
		}
		for level := lower; level > opts.Level; level-- {
			if candidates, err = climb(tx, candidates); err != nil {
				return err
			}
		}
		if opts.Limit > 0 && len(candidates) > opts.Limit {
			candidates = candidates[:opts.Limit]
		}

		for _, id := range candidates {
			result := LookupResult{}
			if result.PublicID, err = tx.GetPublicID(id); err != nil {
				return err
			}
			if opts.RetrieveInstances {
				if result.InstancePublicID, err = firstInstance(tx, id, opts.Level); err != nil {
					return err
				}
			}
			results = append(results, result)
		}
		return nil
	})
	return results, err
}

func filterLevel(tx *index.Transaction, candidates []int64,
	compiled []compiledConstraint, level domain.ResourceType) ([]int64, error) {
	var mains []compiledConstraint
	ranges := make(map[dicom.Tag][2]string)
	for _, c := range compiled {
		if c.level != level {
			continue
		}
		if !c.identifier {
			mains = append(mains, c)
			continue
		}
		// A >= and a <= on the same identifier fuse into one range scan.
		if c.Kind == index.ConstraintGreaterOrEqual || c.Kind == index.ConstraintSmallerOrEqual {
			bounds := ranges[c.Tag]
			if c.Kind == index.ConstraintGreaterOrEqual {
				bounds[0] = dicom.NormalizeIdentifier(c.Values[0])
			} else {
				bounds[1] = dicom.NormalizeIdentifier(c.Values[0])
			}
			ranges[c.Tag] = bounds
			continue
		}

		var matched []int64
		for _, value := range c.Values {
			ids, err := tx.LookupIdentifier(level, c.Tag, c.Kind,
				dicom.NormalizeIdentifier(value))
			if err != nil {
				return nil, err
			}
			matched = append(matched, ids...)
		}
		candidates = intersect(candidates, matched)
	}

	for tag, bounds := range ranges {
		var matched []int64
		var err error
		switch {
		case bounds[0] != "" && bounds[1] != "":
			matched, err = tx.LookupIdentifierRange(level, tag, bounds[0], bounds[1])
		case bounds[0] != "":
			matched, err = tx.LookupIdentifier(level, tag, index.ConstraintGreaterOrEqual, bounds[0])
		default:
			matched, err = tx.LookupIdentifier(level, tag, index.ConstraintSmallerOrEqual, bounds[1])
		}
		if err != nil {
			return nil, err
		}
		candidates = intersect(candidates, matched)
	}

	if len(mains) == 0 {
		return candidates, nil
	}
	filtered := candidates[:0]
	for _, id := range candidates {
		tags, err := tx.GetMainDicomTags(id)
		if err != nil {
			return nil, err
		}
		keep := true
		for _, c := range mains {
			match, err := matchMainTag(c, tags)
			if err != nil {
				return nil, err
			}
			if !match {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

func matchMainTag(c compiledConstraint, tags *dicom.Map) (bool, error) {
	raw, ok := tags.GetString(c.Tag)
	if !ok {
		return !c.Mandatory, nil
	}
	fold := func(value string) string {
		if c.CaseSensitive {
			return strings.TrimSpace(value)
		}
		return dicom.NormalizeIdentifier(value)
	}
	value := fold(raw)
	switch c.Kind {
	case index.ConstraintEqual:
		for _, candidate := range c.Values {
			if fold(candidate) == value {
				return true, nil
			}
		}
		return false, nil
	case index.ConstraintSmallerOrEqual:
		return value <= fold(c.Values[0]), nil
	case index.ConstraintGreaterOrEqual:
		return value >= fold(c.Values[0]), nil
	case index.ConstraintWildcard:
		for _, candidate := range c.Values {
			matcher, err := compileWildcard(fold(candidate))
			if err != nil {
				return false, err
			}
			if matcher.Match(value) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, domain.Errorf(domain.ErrParameterOutOfRange,
			"unsupported constraint kind %d", c.Kind)
	}
}

// compileWildcard builds a matcher that understands only * and ?; every
// other glob metacharacter is taken literally.
func compileWildcard(pattern string) (glob.Glob, error) {
	quoted := glob.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `?`)
	matcher, err := glob.Compile(quoted)
	if err != nil {
		return nil, domain.WrapError(domain.ErrParameterOutOfRange,
			"invalid wildcard pattern", err)
	}
	return matcher, nil
}

func intersect(candidates, matched []int64) []int64 {
	allowed := make(map[int64]bool, len(matched))
	for _, id := range matched {
		allowed[id] = true
	}
	out := candidates[:0]
	for _, id := range candidates {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out
}

func descend(tx *index.Transaction, candidates []int64) ([]int64, error) {
	var out []int64
	for _, id := range candidates {
		children, err := tx.GetChildrenInternalID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func climb(tx *index.Transaction, candidates []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(candidates))
	var out []int64
	for _, id := range candidates {
		parent, ok, err := tx.LookupParent(id)
		if err != nil {
			return nil, err
		}
		if !ok || seen[parent] {
			continue
		}
		seen[parent] = true
		out = append(out, parent)
	}
	return out, nil
}

// firstInstance descends to the first instance leaf below a resource.
func firstInstance(tx *index.Transaction, id int64, level domain.ResourceType) (string, error) {
	for level != domain.ResourceTypeInstance {
		children, err := tx.GetChildrenInternalID(id)
		if err != nil {
			return "", err
		}
		if len(children) == 0 {
			return "", nil
		}
		id = children[0]
		if level, err = level.Child(); err != nil {
			return "", err
		}
	}
	return tx.GetPublicID(id)
}
