// Package topt derives the offline T-OPT vertex-id sequence spec.md §6
// describes: for every memory reference inside a trace's irregular-array
// boundaries, emit `(vaddr - array_begin) / 4` in program order, to a
// flat little-endian `uint32` stream (a `.topttrace` file).
//
// Grounded on
// _examples/original_source/src/tools/topt_tracer/src/trace_utils.cc's
// `traverse_trace`/`belong_to_irreg_array`: sources are scanned before
// destinations for each record, and a reference outside every array's
// bounds contributes nothing to the output.
package topt

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/sarchlab/memsim/internal/trace"
)

// VertexID derives the vertex id a memory reference inside an irregular
// array maps to: the reference's offset from the array's start, in
// 4-byte (graph vertex/edge id) units.
func VertexID(vaddr, arrayBegin uint64) uint32 {
	return uint32((vaddr - arrayBegin) / 4)
}

// Trace produces the T-OPT vertex-id sequence for every record r yields,
// writing one little-endian uint32 per irregular-array-bounded memory
// reference to w, in program order with sources preceding destinations
// within a record.
func Trace(r *trace.Reader, w io.Writer, maxRecords uint64) (emitted uint64, err error) {
	bw := bufio.NewWriter(w)
	defer func() {
		if ferr := bw.Flush(); err == nil {
			err = ferr
		}
	}()

	for i := uint64(0); maxRecords == 0 || i < maxRecords; i++ {
		rec, rerr := r.NextOnce()
		if errors.Is(rerr, io.EOF) {
			return emitted, nil
		}
		if rerr != nil {
			return emitted, rerr
		}

		for _, addr := range rec.SourceMemory {
			if addr == 0 {
				continue
			}
			if idx, ok := r.Header.InArray(addr); ok {
				id := VertexID(addr, r.Header.Arrays[idx].Begin)
				if werr := binary.Write(bw, binary.LittleEndian, id); werr != nil {
					return emitted, werr
				}
				emitted++
			}
		}
		for _, addr := range rec.DestinationMemory {
			if addr == 0 {
				continue
			}
			if idx, ok := r.Header.InArray(addr); ok {
				id := VertexID(addr, r.Header.Arrays[idx].Begin)
				if werr := binary.Write(bw, binary.LittleEndian, id); werr != nil {
					return emitted, werr
				}
				emitted++
			}
		}
	}
	return emitted, nil
}
