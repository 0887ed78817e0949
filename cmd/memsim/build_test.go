package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/internal/config"
)

func TestMemsim(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Memsim Suite")
}

func writeGeometry(dir, name string) string {
	path := filepath.Join(dir, name)
	geo := config.DefaultCacheGeometryConfig()
	data, err := json.Marshal(geo)
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(path, data, 0o600)).To(Succeed())
	return path
}

var _ = Describe("buildHierarchyConfig", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "memsim-build-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("resolves every cache-geometry reference into a LevelSpec", func() {
		cfg := &config.Config{
			LLC: config.CacheRef{Config: writeGeometry(dir, "llc.json")},
			Cores: []config.CoreConfig{
				{
					L1D: config.L1DConfig{Config: writeGeometry(dir, "l1d.json")},
					L1I: config.CacheRef{Config: writeGeometry(dir, "l1i.json")},
					L2C: config.CacheRef{Config: writeGeometry(dir, "l2c.json")},
					OffchipPred: config.OffchipPredConfig{
						Demand: config.DemandPerceptronConfig{Tau1: 1, Tau2: 2},
					},
					IrregularPredictor: config.IrregularPredictorConfig{
						Sets: 8, Ways: 2, StrideBits: 8, PSELBits: 4,
					},
				},
			},
		}

		hcfg, err := buildHierarchyConfig(cfg, 1000, 2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(hcfg.LLC.Sets).To(Equal(64))
		Expect(hcfg.Cores).To(HaveLen(1))
		Expect(hcfg.Cores[0].L1D.BlockSize).To(Equal(64))
		Expect(hcfg.Cores[0].Offchip.Tau1).To(Equal(1.0))
		Expect(hcfg.Cores[0].SDC.Enabled).To(BeFalse())
		Expect(hcfg.WarmupInstructions).To(Equal(uint64(1000)))
		Expect(hcfg.SimulationInstructions).To(Equal(uint64(2000)))
	})

	It("builds an SDC spec when enabled", func() {
		cfg := &config.Config{
			LLC: config.CacheRef{Config: writeGeometry(dir, "llc.json")},
			Cores: []config.CoreConfig{
				{
					L1D: config.L1DConfig{Config: writeGeometry(dir, "l1d.json")},
					L1I: config.CacheRef{Config: writeGeometry(dir, "l1i.json")},
					L2C: config.CacheRef{Config: writeGeometry(dir, "l2c.json")},
					SDC: config.SDCConfig{Enabled: true, Config: writeGeometry(dir, "sdc.json")},
				},
			},
		}

		hcfg, err := buildHierarchyConfig(cfg, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(hcfg.Cores[0].SDC.Enabled).To(BeTrue())
		Expect(hcfg.Cores[0].SDC.Sets).To(Equal(64))
	})

	It("fails when a referenced geometry file is missing", func() {
		cfg := &config.Config{
			LLC: config.CacheRef{Config: filepath.Join(dir, "missing.json")},
		}
		_, err := buildHierarchyConfig(cfg, 0, 0)
		Expect(err).To(HaveOccurred())
	})
})
