package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/internal/config"
)

var _ = Describe("Load", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "memsim-config-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("parses a top-level document naming the LLC, DRAM, and per-core sections", func() {
		doc := `{
			"llc": {"config": "llc.config"},
			"dram": {"memory_trace_directory": "/traces"},
			"cores": [
				{
					"l1d": {"config": "l1d.config", "psel_bits": 10, "psel_threshold": 512},
					"l1i": {"config": "l1i.config"},
					"l2c": {"config": "l2c.config"},
					"sdc": {"config": "sdc.config", "enabled": true},
					"irregular_predictor": {"stride_threshold": 50, "sets": 64, "ways": 4, "stride_bits": 8, "psel_bits": 4},
					"offchip_pred": {
						"prefetch": {"threshold": -17},
						"demand": {"tau_1": -17, "tau_2": -17}
					}
				}
			]
		}`
		path := filepath.Join(dir, "memsim.json")
		Expect(os.WriteFile(path, []byte(doc), 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LLC.Config).To(Equal("llc.config"))
		Expect(cfg.DRAM.MemoryTraceDirectory).To(Equal("/traces"))
		Expect(cfg.Cores).To(HaveLen(1))
		Expect(cfg.Cores[0].L1D.PSELBits).To(Equal(uint8(10)))
		Expect(cfg.Cores[0].SDC.Enabled).To(BeTrue())
		Expect(cfg.Cores[0].IrregularPredictor.StrideThreshold).To(Equal(uint64(50)))
		Expect(cfg.Cores[0].OffchipPred.Demand.Tau1).To(Equal(-17.0))

		Expect(cfg.Validate()).To(Succeed())
	})

	It("rejects a document missing a required core-level cache reference", func() {
		doc := `{"llc": {"config": "llc.config"}, "cores": [{"l1d": {}, "l1i": {}, "l2c": {}}]}`
		path := filepath.Join(dir, "memsim.json")
		Expect(os.WriteFile(path, []byte(doc), 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("l1d.config")))
	})

	It("reports a wrapped error for a missing config file", func() {
		_, err := config.Load(filepath.Join(dir, "does-not-exist.json"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("LoadCacheGeometry", func() {
	It("fills in defaults for fields the file omits", func() {
		dir, err := os.MkdirTemp("", "memsim-config-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "l1d.config")
		Expect(os.WriteFile(path, []byte(`{"sets": 16, "ways": 2}`), 0o644)).To(Succeed())

		geo, err := config.LoadCacheGeometry(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(geo.Sets).To(Equal(16))
		Expect(geo.Ways).To(Equal(2))
		Expect(geo.BlockSize).To(Equal(64))
		Expect(geo.Validate()).To(Succeed())
	})

	It("rejects a geometry with zero sets", func() {
		geo := &config.CacheGeometryConfig{Ways: 2, BlockSize: 64, MSHRSize: 4}
		Expect(geo.Validate()).To(HaveOccurred())
	})
})
