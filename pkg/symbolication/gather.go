package symbolication

import (
	"slices"

	"github.com/samber/lo"

	"github.com/grafana/profile-symbolicator/pkg/profile"
)

// GatherThreadLibraryInfo groups funcs, native symbols and frames of the
// thread by the library they belong to. A frame belongs to the library of
// its native symbol, or to the library of its func's resource when it has
// none: funcs may be shared between libraries. Libraries without frames are
// omitted.
func GatherThreadLibraryInfo(t *profile.Thread, libs []profile.Library) map[string]*ThreadLibraryInfo {
	infos := make(map[string]*ThreadLibraryInfo)
	byResource := make(map[int]*ThreadLibraryInfo)
	byLib := make(map[int]*ThreadLibraryInfo)

	for r := 0; r < t.Resources.Len(); r++ {
		if t.Resources.Type[r] != profile.ResourceTypeLibrary {
			continue
		}
		libIndex := t.Resources.Lib[r]
		if libIndex < 0 || libIndex >= len(libs) {
			continue
		}
		lib := libs[libIndex]
		info, ok := infos[lib.Key()]
		if !ok {
			info = &ThreadLibraryInfo{
				Library:  descriptorOf(lib),
				LibIndex: libIndex,
				Resource: r,
			}
			infos[lib.Key()] = info
		}
		byResource[r] = info
		byLib[libIndex] = info
	}
	if len(infos) == 0 {
		return infos
	}

	// Funcs and symbols of library frames that can't be symbolicated (no
	// address) must never be handed out for reuse.
	pinnedFuncs := make(map[int]struct{})
	pinnedSymbols := make(map[int]struct{})
	for frame := 0; frame < t.Frames.Len(); frame++ {
		info, ok := byResource[t.Funcs.Resource[t.Frames.Func[frame]]]
		if ns := t.Frames.NativeSymbol[frame]; ns != profile.Null {
			if symInfo, found := byLib[t.NativeSymbols.LibIndex[ns]]; found {
				info, ok = symInfo, true
			}
		}
		if !ok {
			continue
		}
		if t.Frames.InlineDepth[frame] > 0 {
			info.InlineFrames = append(info.InlineFrames, frame)
			continue
		}
		address := t.Frames.Address[frame]
		if address < 0 {
			pinnedFuncs[t.Frames.Func[frame]] = struct{}{}
			if ns := t.Frames.NativeSymbol[frame]; ns != profile.Null {
				pinnedSymbols[ns] = struct{}{}
			}
			continue
		}
		info.Frames = append(info.Frames, frame)
		info.Addresses = append(info.Addresses, uint64(address))
	}

	for fn := 0; fn < t.Funcs.Len(); fn++ {
		if _, ok := pinnedFuncs[fn]; ok {
			continue
		}
		if info, ok := byResource[t.Funcs.Resource[fn]]; ok {
			info.Funcs = append(info.Funcs, fn)
		}
	}
	for ns := 0; ns < t.NativeSymbols.Len(); ns++ {
		if _, ok := pinnedSymbols[ns]; ok {
			continue
		}
		if info, ok := byLib[t.NativeSymbols.LibIndex[ns]]; ok {
			info.NativeSymbols = append(info.NativeSymbols, ns)
		}
	}

	for key, info := range infos {
		if len(info.Frames) == 0 {
			delete(infos, key)
		}
	}
	return infos
}

// GatherLibraryRequests computes the requests of one symbolication pass: one
// request per library, holding the union of the addresses used by all
// threads. It also returns the per-thread library info, indexed by thread.
func GatherLibraryRequests(p *profile.Profile, ignoreCache bool) ([]LibraryRequest, []map[string]*ThreadLibraryInfo) {
	threadInfos := make([]map[string]*ThreadLibraryInfo, len(p.Threads))
	addresses := make(map[string]map[uint64]struct{})
	descriptors := make(map[string]LibraryDescriptor)

	for i, t := range p.Threads {
		threadInfos[i] = GatherThreadLibraryInfo(t, p.Libs)
		for key, info := range threadInfos[i] {
			set, ok := addresses[key]
			if !ok {
				set = make(map[uint64]struct{}, len(info.Addresses))
				addresses[key] = set
				descriptors[key] = info.Library
			}
			for _, a := range info.Addresses {
				set[a] = struct{}{}
			}
		}
	}

	keys := lo.Keys(addresses)
	slices.Sort(keys)
	requests := make([]LibraryRequest, 0, len(keys))
	for _, key := range keys {
		addrs := lo.Keys(addresses[key])
		slices.Sort(addrs)
		requests = append(requests, LibraryRequest{
			Library:     descriptors[key],
			Addresses:   addrs,
			IgnoreCache: ignoreCache,
		})
	}
	return requests, threadInfos
}
