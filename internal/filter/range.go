package filter

import "errors"

// Direction orders query results by (block_number, log_index).
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// ErrInvalidRange rejects block ranges that cannot be resolved into a
// meaningful absolute pair.
var ErrInvalidRange = errors.New("invalid block range")

// ResolveRange maps a requested block range onto absolute bounds and a scan
// direction. Non-negative endpoints are literal block numbers. Negative
// endpoints are offsets from the chain head: -1 is the latest block, -2 the
// second-latest, resolved as latest+value+1. The returned bounds always
// satisfy absFrom <= absTo; direction records which endpoint the caller named
// first.
func ResolveRange(from, to int64, latest uint64) (absFrom, absTo uint64, dir Direction, err error) {
	if from == to {
		if from < 0 {
			block, err := resolveOffset(from, latest)
			if err != nil {
				return 0, 0, Ascending, err
			}
			return block, block, Ascending, nil
		}
		return uint64(from), uint64(from), Ascending, nil
	}

	switch {
	case from >= 0 && to >= 0:
		if from < to {
			return uint64(from), uint64(to), Ascending, nil
		}
		return uint64(to), uint64(from), Descending, nil

	case from < 0 && to < 0:
		rf, err := resolveOffset(from, latest)
		if err != nil {
			return 0, 0, Ascending, err
		}
		rt, err := resolveOffset(to, latest)
		if err != nil {
			return 0, 0, Ascending, err
		}
		if from < to {
			return rf, rt, Ascending, nil
		}
		return rt, rf, Descending, nil

	case from >= 0: // to < 0
		rt, err := resolveOffset(to, latest)
		if err != nil {
			return 0, 0, Ascending, err
		}
		if rt < uint64(from) {
			return 0, 0, Ascending, ErrInvalidRange
		}
		return uint64(from), rt, Ascending, nil

	default: // from < 0, to >= 0
		rf, err := resolveOffset(from, latest)
		if err != nil {
			return 0, 0, Ascending, err
		}
		if rf < uint64(to) {
			return 0, 0, Ascending, ErrInvalidRange
		}
		return uint64(to), rf, Descending, nil
	}
}

func resolveOffset(offset int64, latest uint64) (uint64, error) {
	resolved := int64(latest) + offset + 1
	if resolved < 0 {
		return 0, ErrInvalidRange
	}
	return uint64(resolved), nil
}
