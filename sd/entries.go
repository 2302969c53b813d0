package sd

import "someipd/wire"

// ResolvedEntry pairs a wire.Entry with the concrete options it references,
// resolved via NumOpts/IndexNth per spec section 4.3's option
// cross-referencing rule.
type ResolvedEntry struct {
	Entry   wire.Entry
	Options []wire.Option
}

// ResolveEntries walks msg.Entries, resolving each entry's option indices
// against msg.Options. An entry whose Index1st/Index2nd point outside the
// options array is dropped entirely (the rest of the message is still
// processed), matching the spec's "discard that entry only" rule.
func ResolveEntries(msg wire.Message) []ResolvedEntry {
	out := make([]ResolvedEntry, 0, len(msg.Entries))
	for _, e := range msg.Entries {
		opts, ok := resolveOne(e, msg.Options)
		if !ok {
			continue
		}
		out = append(out, ResolvedEntry{Entry: e, Options: opts})
	}
	return out
}

func resolveOne(e wire.Entry, options []wire.Option) ([]wire.Option, bool) {
	total := int(e.NumOpts1st) + int(e.NumOpts2nd)
	if total == 0 {
		return nil, true
	}
	var resolved []wire.Option
	if e.NumOpts1st > 0 {
		opts, ok := sliceOptions(options, int(e.Index1st), int(e.NumOpts1st))
		if !ok {
			return nil, false
		}
		resolved = append(resolved, opts...)
	}
	if e.NumOpts2nd > 0 {
		opts, ok := sliceOptions(options, int(e.Index2nd), int(e.NumOpts2nd))
		if !ok {
			return nil, false
		}
		resolved = append(resolved, opts...)
	}
	return resolved, true
}

func sliceOptions(options []wire.Option, index, count int) ([]wire.Option, bool) {
	if index < 0 || count < 0 || index+count > len(options) {
		return nil, false
	}
	return options[index : index+count], true
}
