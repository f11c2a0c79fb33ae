package counters

// hostTree builds {Host:[CPU:[Core0,Core1]], VM1:[CPU:[Core0]]}.
func hostTree() *Entities {
	return NewEntities(
		NewEntity("Host", true,
			NewGroup("CPU", NewCounter("Core0"), NewCounter("Core1")),
		),
		NewEntity("VM1", true,
			NewGroup("CPU", NewCounter("Core0")),
		),
	)
}

func wantedCore0() *Entities {
	return NewEntities(
		NewEntity("Host", true,
			NewGroup("CPU", NewCounter("Core0")),
		),
	)
}

// permuted reverses every children list of es.
func permuted(es *Entities) *Entities {
	out := es.Clone()
	reverseEntities(out.Subs)
	for _, e := range out.Subs {
		reverseCounters(e.Subs)
	}
	return out
}

func reverseEntities(list []*Entity) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}

func reverseCounters(list []*CounterInfo) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	for _, c := range list {
		reverseCounters(c.Subs)
	}
}

func valuesTree() *Entities {
	return NewEntities(
		NewEntity("Host", true,
			NewGroup("CPU", NewValue("Core0", "12.5"), NewValue("Core1", "40")),
			NewGroup("Memory", NewValue("Used", "1024"), NewValue("Free", "2048")),
		),
		NewEntity("VM1", false,
			NewGroup("CPU", NewValue("Core0", "-1")),
			NewGroup("Disk", NewValue("Read", "7"), NewValue("Write", "9")),
		),
	)
}
