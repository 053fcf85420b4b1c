package symbolication

import "github.com/grafana/profile-symbolicator/pkg/profile"

type stackKey struct {
	prefix int
	frame  int
}

// rebuildStacks rewrites the stack table in a single pass: nodes of removed
// frames are spliced out (their children move up to the removed node's
// parent), and nodes of expanded frames are replaced by one node per frame
// of the expansion. Samples are repointed to the new leaf nodes.
//
// Parents always precede their children in a stack table, so the new prefix
// of every node is known by the time the node is visited.
func rebuildStacks(old profile.StackTable, samples profile.SamplesTable, removeFrame []bool, expansions map[int][]int) (profile.StackTable, profile.SamplesTable) {
	var stacks profile.StackTable
	oldToNew := make([]int, old.Len())
	emitted := make(map[stackKey]int, old.Len())

	emit := func(prefix, frame int) int {
		key := stackKey{prefix: prefix, frame: frame}
		if s, ok := emitted[key]; ok {
			return s
		}
		s := stacks.Append(frame, prefix)
		emitted[key] = s
		return s
	}

	for s := 0; s < old.Len(); s++ {
		prefix := profile.Null
		if p := old.Prefix[s]; p != profile.Null {
			prefix = oldToNew[p]
		}
		frame := old.Frame[s]
		if frame < len(removeFrame) && removeFrame[frame] {
			oldToNew[s] = prefix
			continue
		}
		expansion, ok := expansions[frame]
		if !ok {
			oldToNew[s] = emit(prefix, frame)
			continue
		}
		for _, f := range expansion {
			prefix = emit(prefix, f)
		}
		oldToNew[s] = prefix
	}

	newSamples := profile.SamplesTable{
		Time:   append([]float64(nil), samples.Time...),
		Stack:  make([]int, samples.Len()),
		Weight: append([]int64(nil), samples.Weight...),
	}
	for i, s := range samples.Stack {
		if s == profile.Null {
			newSamples.Stack[i] = profile.Null
			continue
		}
		newSamples.Stack[i] = oldToNew[s]
	}
	return stacks, newSamples
}
