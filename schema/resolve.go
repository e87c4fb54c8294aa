package schema

import (
	"strings"

	"github.com/brightloop/recfetch/errs"
)

// ResolvePath walks an absolute, already-normalized dot path from
// recordType's top container and returns the PropertyDesc it
// ultimately names, along with the Container that owns it. Every
// non-final segment must be an object or (non-calculated) reference
// property so traversal can continue into its container.
func ResolvePath(s *Schema, recordType, absPath string) (*PropertyDesc, *Container, error) {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, nil, err
	}
	segs := strings.Split(absPath, ".")
	cur := rt.TopContainer()
	for i, name := range segs {
		p, ok := cur.Property(name)
		if !ok {
			return nil, nil, errs.ErrInvalidPath.New(absPath, recordType, "")
		}
		if i == len(segs)-1 {
			return p, cur, nil
		}
		switch {
		case p.IsObject():
			cur = p.Container()
		case p.IsReference():
			target, err := s.GetRecordTypeDesc(p.TargetRecordType())
			if err != nil {
				return nil, nil, err
			}
			cur = target.TopContainer()
		default:
			return nil, nil, errs.ErrInvalidPath.New(absPath, recordType, ": "+name+" is not a container")
		}
	}
	return nil, nil, errs.ErrInvalidPath.New(absPath, recordType, "")
}
