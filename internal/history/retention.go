package history

// applyRetention keeps every pinned entry and the most recent
// max-pinnedCount unpinned ones (never fewer than one, so the version just
// recorded survives). The kept set is returned in chronological order
// together with the entries to delete.
func applyRetention(entries []Entry, maxVersions int) (kept, dropped []Entry) {
	sorted := append([]Entry(nil), entries...)
	sortChronological(sorted)

	pinned := 0
	for _, e := range sorted {
		if e.Pinned {
			pinned++
		}
	}
	allowed := max(maxVersions-pinned, 1)

	// Walk newest to oldest so the recent unpinned entries win.
	keep := make([]bool, len(sorted))
	unpinned := 0
	for i := len(sorted) - 1; i >= 0; i-- {
		switch {
		case sorted[i].Pinned:
			keep[i] = true
		case unpinned < allowed:
			keep[i] = true
			unpinned++
		}
	}

	for i, e := range sorted {
		if keep[i] {
			kept = append(kept, e)
		} else {
			dropped = append(dropped, e)
		}
	}
	return kept, dropped
}
