package pool

import "github.com/ksharma-417/yureidb/core/buffer/pagemanager"

// hazardPointer publishes the list node a batch iterator stands on so that
// concurrent removers can move the iterator instead of invalidating it.
// One type serves every list; the list kind is captured by the adjust
// callback, which maps a removed node to the node the iterator would visit
// next. Access is guarded by the mutex of the list being iterated.
type hazardPointer struct {
	at     int32
	adjust func(removed int32) int32
}

func (h *hazardPointer) set(idx int32) {
	h.at = idx
}

func (h *hazardPointer) get() int32 {
	return h.at
}

// adjustFor must be called by removers before unlinking idx.
func (h *hazardPointer) adjustFor(idx int32) {
	if h.at == idx {
		h.at = h.adjust(idx)
	}
}

func (h *hazardPointer) clear() {
	h.at = pagemanager.NilIdx
}
