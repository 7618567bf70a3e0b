package engine

// Stats is a snapshot of the engine's counters. Counters are cumulative
// since New; Clients is the current population by state.
type Stats struct {
	Clients map[State]int

	DatagramsIn  uint64
	DatagramsOut uint64
	BytesIn      uint64
	BytesOut     uint64
	Dropped      uint64

	Joins  uint64
	Leaves uint64

	SDPAccepted   uint64
	SDPInvalid    uint64
	SDPMaxClients uint64
	SDPErrors     uint64

	ArenaUsed int
	Queued    int
}

// Stats returns a copy of the current counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Clients = make(map[State]int, 4)
	for _, id := range e.clients {
		if c, ok := e.pool.Get(id); ok {
			s.Clients[c.state]++
		}
	}
	s.ArenaUsed = e.arena.Used()
	s.Queued = e.queue.Len()
	return s
}
