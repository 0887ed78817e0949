package topt_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/internal/topt"
	"github.com/sarchlab/memsim/internal/trace"
)

func writeCompressedTrace(dir string, arrays []trace.ArrayBounds, records []trace.Record) string {
	var raw bytes.Buffer
	Expect(binary.Write(&raw, binary.LittleEndian, uint64(len(arrays)))).To(Succeed())
	for _, a := range arrays {
		Expect(binary.Write(&raw, binary.LittleEndian, a.Begin)).To(Succeed())
		Expect(binary.Write(&raw, binary.LittleEndian, a.End)).To(Succeed())
	}
	for _, r := range records {
		Expect(binary.Write(&raw, binary.LittleEndian, r)).To(Succeed())
	}

	path := filepath.Join(dir, "test.trace.xz")
	cmd := exec.Command("xz", "-zc")
	cmd.Stdin = bytes.NewReader(raw.Bytes())
	out, err := cmd.Output()
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(path, out, 0o600)).To(Succeed())
	return path
}

var _ = Describe("VertexID", func() {
	It("derives a 4-byte-unit offset from the array's start", func() {
		Expect(topt.VertexID(0x1010, 0x1000)).To(Equal(uint32(4)))
	})
})

var _ = Describe("Trace", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "memsim-topt-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("emits one vertex id per irregular-array-bounded reference, sources before destinations", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}}
		records := []trace.Record{
			{
				SourceMemory:      [trace.NumSources]uint64{0x1010, 0, 0, 0},
				DestinationMemory: [trace.NumDestinations]uint64{0x1020, 0},
			},
		}
		path := writeCompressedTrace(dir, arrays, records)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		var out bytes.Buffer
		emitted, err := topt.Trace(r, &out, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(emitted).To(Equal(uint64(2)))

		var ids [2]uint32
		Expect(binary.Read(&out, binary.LittleEndian, &ids)).To(Succeed())
		Expect(ids[0]).To(Equal(uint32(4)))  // (0x1010-0x1000)/4
		Expect(ids[1]).To(Equal(uint32(8)))  // (0x1020-0x1000)/4
	})

	It("skips references outside every irregular array", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}}
		records := []trace.Record{
			{SourceMemory: [trace.NumSources]uint64{0x9000, 0, 0, 0}},
		}
		path := writeCompressedTrace(dir, arrays, records)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		var out bytes.Buffer
		emitted, err := topt.Trace(r, &out, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(emitted).To(Equal(uint64(0)))
		Expect(out.Len()).To(Equal(0))
	})

	It("stops cleanly at the trace's real end when maxRecords is unbounded", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}}
		records := []trace.Record{
			{SourceMemory: [trace.NumSources]uint64{0x1010, 0, 0, 0}},
		}
		path := writeCompressedTrace(dir, arrays, records)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		var out bytes.Buffer
		emitted, err := topt.Trace(r, &out, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(emitted).To(Equal(uint64(1)))
	})
})
