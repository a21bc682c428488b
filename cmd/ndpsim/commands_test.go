package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
)

var _ = Describe("Commands", func() {
	var out *bytes.Buffer

	execute := func(args ...string) error {
		root := newRootCmd()
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(args)

		return root.Execute()
	}

	BeforeEach(func() {
		out = &bytes.Buffer{}
		os.Unsetenv(configEnv)
	})

	Describe("config", func() {
		It("should print the defaults", func() {
			Expect(execute("config")).To(Succeed())

			cfg := &config.Config{}
			Expect(json.Unmarshal(out.Bytes(), cfg)).To(Succeed())
			Expect(cfg.FrequencyMHz).To(Equal(config.Default().FrequencyMHz))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should write a file that loads back", func() {
			path := filepath.Join(GinkgoT().TempDir(), "unit.json")

			Expect(execute("config", "-o", path)).To(Succeed())

			cfg, err := config.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LSU.Banks).To(Equal(config.Default().LSU.Banks))
		})

		It("should take the path from the environment", func() {
			path := filepath.Join(GinkgoT().TempDir(), "unit.json")
			Expect(os.WriteFile(path, []byte(`{"frequency_mhz": 500}`),
				0o644)).To(Succeed())

			os.Setenv(configEnv, path)
			DeferCleanup(os.Unsetenv, configEnv)

			Expect(execute("config")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(`"frequency_mhz": 500`))
		})

		It("should report a missing file", func() {
			Expect(execute("config", "-c", "/nonexistent/unit.json")).
				NotTo(Succeed())
		})
	})

	Describe("run", func() {
		It("should run a kernel and check its output", func() {
			Expect(execute("run", "-k", "scalar", "-n", "4")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Benchmark: scalar"))
			Expect(out.String()).To(ContainSubstring("PASS scalar"))
		})

		It("should trace retired columns", func() {
			Expect(execute("run", "-k", "vecadd", "-n", "3", "-v")).
				To(Succeed())
			Expect(strings.Count(out.String(), " done ")).To(Equal(3))
			Expect(out.String()).NotTo(ContainSubstring(" issue "))
		})

		It("should trace issues when asked twice", func() {
			Expect(execute("run", "-k", "widen", "-n", "1", "-vv")).
				To(Succeed())
			Expect(out.String()).To(ContainSubstring(" issue "))
		})

		It("should stop at the cycle limit", func() {
			err := execute("run", "-k", "gather", "--max-cycles", "3")
			Expect(err).To(MatchError(ContainSubstring("not idle")))
			Expect(out.String()).To(ContainSubstring("FAIL gather"))
		})

		It("should run a kernel file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "addfive.s")
			src := ".body\n add x6, x1, x2\n lw x7, 0(x6)\n" +
				" addi x7, x7, 5\n sw x7, 4096(x6)\n"
			Expect(os.WriteFile(path, []byte(src), 0o644)).To(Succeed())

			Expect(execute("run", "-f", path, "-n", "4")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("PASS addfive"))
		})

		It("should retire kernel file phases in order", func() {
			path := filepath.Join(GinkgoT().TempDir(), "phases.s")
			src := ".init\n addi x5, x1, 1\n" +
				".body\n add x6, x1, x2\n lw x7, 0(x6)\n" +
				".final\n addi x5, x1, 2\n"
			Expect(os.WriteFile(path, []byte(src), 0o644)).To(Succeed())

			Expect(execute("run", "-f", path, "-n", "4", "-v")).To(Succeed())

			var phases []string
			for _, line := range strings.Split(out.String(), "\n") {
				if !strings.Contains(line, " done ") {
					continue
				}

				for _, p := range []string{"init", "body0", "final"} {
					if strings.Contains(line, " "+p+",") {
						phases = append(phases, p)
					}
				}
			}

			Expect(phases).To(Equal([]string{
				"init", "body0", "body0", "body0", "body0", "final",
			}))
		})

		It("should reject an unknown kernel", func() {
			Expect(execute("run", "-k", "fft")).
				To(MatchError(ContainSubstring("unknown benchmark")))
		})
	})

	Describe("bench", func() {
		It("should print one CSV row per kernel", func() {
			Expect(execute("bench", "-f", "csv", "-n", "2", "vecadd", "gather")).
				To(Succeed())

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[1]).To(HavePrefix("vecadd,2,"))
			Expect(lines[2]).To(HavePrefix("gather,2,"))
		})

		It("should print JSON", func() {
			Expect(execute("bench", "-f", "json", "-n", "2", "scalar")).
				To(Succeed())
			Expect(out.String()).To(ContainSubstring(`"total_benchmarks": 1`))
		})

		It("should reject an unknown format", func() {
			Expect(execute("bench", "-f", "xml")).NotTo(Succeed())
		})
	})
})
