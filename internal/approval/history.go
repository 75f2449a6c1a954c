package approval

// history is a fixed-capacity ring of records, oldest evicted first.
// Callers hold the gateway lock.
type history struct {
	records []Record
	start   int
	size    int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history{records: make([]Record, limit)}
}

func (h *history) add(rec Record) {
	capacity := len(h.records)
	if h.size < capacity {
		h.records[(h.start+h.size)%capacity] = rec
		h.size++
		return
	}
	h.records[h.start] = rec
	h.start = (h.start + 1) % capacity
}

// at returns the i-th record counting from the newest (0).
func (h *history) at(i int) *Record {
	idx := (h.start + h.size - 1 - i) % len(h.records)
	return &h.records[idx]
}

// newest returns up to limit records, newest first. limit <= 0 means all.
func (h *history) newest(limit int) []Record {
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, *h.at(i))
	}
	return out
}

func (h *history) find(requestID string) *Record {
	for i := 0; i < h.size; i++ {
		if rec := h.at(i); rec.Request.ID == requestID {
			return rec
		}
	}
	return nil
}

func (h *history) len() int {
	return h.size
}
