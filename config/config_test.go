package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
)

var _ = Describe("Config", func() {
	It("should validate the defaults", func() {
		Expect(config.Default().Validate()).To(Succeed())
	})

	It("should round trip through a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "unit.json")

		c := config.Default()
		c.Exec.VLEN = 512
		c.LSU.Banks = 8
		c.Timing.Divide.Latency = 20
		Expect(c.SaveConfig(path)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(c))
	})

	It("should keep defaults for fields missing from the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "partial.json")
		Expect(os.WriteFile(path,
			[]byte(`{"exec": {"issue_width": 4}, "timing": {"alu": {"latency": 2, "interval": 1}}}`),
			0644)).To(Succeed())

		c, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Exec.IssueWidth).To(Equal(4))
		Expect(c.Exec.VLEN).To(Equal(config.Default().Exec.VLEN))
		Expect(c.Timing.ALU.Latency).To(Equal(uint64(2)))
		Expect(c.Timing.Divide).To(Equal(config.Default().Timing.Divide))
		Expect(c.Validate()).To(Succeed())
	})

	It("should report a missing file", func() {
		_, err := config.LoadConfig("/nonexistent/unit.json")
		Expect(err).To(HaveOccurred())
	})

	It("should report a malformed file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "bad.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())

		_, err := config.LoadConfig(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse")))
	})

	It("should clone the timing table", func() {
		c := config.Default()
		clone := c.Clone()
		clone.Timing.ALU.Latency = 9
		clone.Exec.IssueWidth = 9

		Expect(c.Timing.ALU.Latency).To(Equal(uint64(1)))
		Expect(c.Exec.IssueWidth).To(Equal(2))
	})

	DescribeTable("Validate",
		func(mutate func(*config.Config), want string) {
			c := config.Default()
			mutate(c)
			Expect(c.Validate()).To(MatchError(ContainSubstring(want)))
		},
		Entry("frequency", func(c *config.Config) { c.FrequencyMHz = 0 },
			"frequency_mhz"),
		Entry("register files", func(c *config.Config) { c.Rename.NumVector = 0 },
			"rename"),
		Entry("integer registers", func(c *config.Config) { c.Rename.NumInt = 2 },
			"num_int must be >= 3"),
		Entry("fetch", func(c *config.Config) { c.Fetch.FetchWidth = 0 },
			"fetch"),
		Entry("exec", func(c *config.Config) { c.Exec.IssueWidth = 0 },
			"exec"),
		Entry("lsu", func(c *config.Config) { c.LSU.Banks = 0 }, "lsu"),
		Entry("timing", func(c *config.Config) { c.Timing.ALU.Interval = 0 },
			"timing"),
		Entry("memory", func(c *config.Config) { c.Memory.ChannelCapacity = 0 },
			"memory"),
	)
})
