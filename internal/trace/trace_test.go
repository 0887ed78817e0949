package trace_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/internal/trace"
)

// writeCompressedTrace builds a raw trace (header + records) and
// compresses it with xz, matching the format trace.Open expects.
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

var _ = Describe("Reader", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "memsim-trace-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("parses the header's irregular-array boundary pairs", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}, {Begin: 0x5000, End: 0x6000}}
		path := writeCompressedTrace(dir, arrays, nil)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(r.Header.Arrays).To(Equal(arrays))
	})

	It("decodes instruction records in order", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}}
		records := []trace.Record{
			{IP: 0x400000, SourceMemory: [trace.NumSources]uint64{0x1010, 0, 0, 0}},
			{IP: 0x400004, DestinationMemory: [trace.NumDestinations]uint64{0x1020, 0}},
		}
		path := writeCompressedTrace(dir, arrays, records)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		first, err := r.NextOnce()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.IP).To(Equal(uint64(0x400000)))
		Expect(first.SourceMemory[0]).To(Equal(uint64(0x1010)))

		second, err := r.NextOnce()
		Expect(err).NotTo(HaveOccurred())
		Expect(second.IP).To(Equal(uint64(0x400004)))
		Expect(second.DestinationMemory[0]).To(Equal(uint64(0x1020)))
	})

	It("loops back to the header on EOF via Next", func() {
		arrays := []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}}
		records := []trace.Record{{IP: 0x400000}}
		path := writeCompressedTrace(dir, arrays, records)

		r, err := trace.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		first, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.IP).To(Equal(uint64(0x400000)))

		looped, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(looped.IP).To(Equal(uint64(0x400000)))
	})

	It("reports which irregular array a virtual address falls in", func() {
		h := trace.Header{Arrays: []trace.ArrayBounds{{Begin: 0x1000, End: 0x2000}, {Begin: 0x5000, End: 0x6000}}}

		idx, ok := h.InArray(0x5010)
		Expect(ok).To(BeTrue())
		Expect(idx).To(Equal(1))

		_, ok = h.InArray(0x3000)
		Expect(ok).To(BeFalse())
	})

	It("fails to open a missing trace file", func() {
		_, err := trace.Open(filepath.Join(dir, "missing.trace.xz"))
		Expect(err).To(HaveOccurred())
	})
})
