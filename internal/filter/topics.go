package filter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTopicGroups is the number of topic slots on an EVM log.
const MaxTopicGroups = 4

// ErrTooManyTopics rejects filters with more than 4 topic groups.
var ErrTooManyTopics = errors.New("too many topic groups")

// TopicFilter is a compiled predicate over the 4 topic slots of a log. An
// empty group at a slot means no constraint at that slot. The same compiled
// filter drives both the SQL query path and in-process matching of live
// notifications.
type TopicFilter struct {
	groups [MaxTopicGroups][]common.Hash
}

// ParseTopics compiles raw hex-string topic groups into a TopicFilter.
// Values shorter than 32 bytes are left-zero-padded; comparison is
// case-insensitive.
func ParseTopics(groups [][]string) (*TopicFilter, error) {
	if len(groups) > MaxTopicGroups {
		return nil, ErrTooManyTopics
	}

	f := &TopicFilter{}
	for i, group := range groups {
		for _, raw := range group {
			topic, err := normalizeTopic(raw)
			if err != nil {
				return nil, fmt.Errorf("topic group %d: %w", i, err)
			}
			f.groups[i] = append(f.groups[i], topic)
		}
	}
	return f, nil
}

func normalizeTopic(raw string) (common.Hash, error) {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if s == "" {
		return common.Hash{}, fmt.Errorf("empty topic value")
	}
	if len(s) > common.HashLength*2 {
		return common.Hash{}, fmt.Errorf("topic %q is longer than 32 bytes", raw)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	rawBytes, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("topic %q is not valid hex", raw)
	}
	// BytesToHash left-pads undersized values to the full 32-byte width.
	return common.BytesToHash(rawBytes), nil
}

// Empty reports whether the filter constrains nothing.
func (f *TopicFilter) Empty() bool {
	if f == nil {
		return true
	}
	for _, group := range f.groups {
		if len(group) > 0 {
			return false
		}
	}
	return true
}

// Match evaluates the filter against a candidate's topics. For every
// constrained slot the candidate topic must be present and a member of the
// group.
func (f *TopicFilter) Match(topics [4]*common.Hash) bool {
	if f == nil {
		return true
	}
	for i, group := range f.groups {
		if len(group) == 0 {
			continue
		}
		if topics[i] == nil {
			return false
		}
		found := false
		for _, want := range group {
			if *topics[i] == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SQL emits a parameterized WHERE fragment over the topic0..topic3 columns,
// numbering placeholders from argOffset+1. Topics are stored lowercase, so
// plain equality suffices. Returns an empty clause for an unconstrained
// filter.
func (f *TopicFilter) SQL(argOffset int) (string, []any) {
	if f.Empty() {
		return "", nil
	}

	var clauses []string
	var args []any
	for i, group := range f.groups {
		if len(group) == 0 {
			continue
		}
		placeholders := make([]string, len(group))
		for j, topic := range group {
			args = append(args, topic.Hex())
			placeholders[j] = fmt.Sprintf("$%d", argOffset+len(args))
		}
		clauses = append(clauses, fmt.Sprintf("topic%d IN (%s)", i, strings.Join(placeholders, ", ")))
	}
	return "(" + strings.Join(clauses, " AND ") + ")", args
}
