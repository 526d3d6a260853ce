package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ssdsim/datarecording"
	"github.com/sarchlab/ssdsim/sim/stateful"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/tracing"
)

const testConfig = `
geometry:
  pages_per_block: 8
  blocks_per_flash: 16
  flashes: 2
  planes_per_flash: 1
  channels: 2
  over_provision_percent: 25
log:
  level: error
`

var _ = Describe("ssdsim", func() {
	var (
		dir        string
		configPath string
	)

	execute := func(args ...string) (string, error) {
		root := NewRootCommand()
		out := &bytes.Buffer{}
		root.SetOut(out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{
			"--config", configPath,
			"--env-file", filepath.Join(dir, "missing.env"),
		}, args...))

		err := root.ExecuteContext(context.Background())

		return out.String(), err
	}

	run := func(args ...string) runSummary {
		out, err := execute(append([]string{"run"}, args...)...)
		ExpectWithOffset(1, err).ToNot(HaveOccurred())

		var s runSummary
		ExpectWithOffset(1, json.Unmarshal([]byte(out), &s)).To(Succeed())

		return s
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		configPath = filepath.Join(dir, "ssdsim.yaml")
		Expect(os.WriteFile(configPath, []byte(testConfig), 0o644)).To(Succeed())
	})

	It("should print the geometry as JSON", func() {
		out, err := execute("geometry", "-o", "json")
		Expect(err).ToNot(HaveOccurred())

		var g geometry.Geometry
		Expect(json.Unmarshal([]byte(out), &g)).To(Succeed())
		Expect(g.PagesInSSD).To(Equal(256))
		Expect(g.PageMappingEntryCount).To(Equal(192))
		Expect(g.Flashes).To(Equal(2))
	})

	It("should print the geometry as a table", func() {
		out, err := execute("geometry")
		Expect(err).ToNot(HaveOccurred())

		Expect(out).To(MatchRegexp(`(?m)^PagesPerBlock\s+8$`))
		Expect(out).To(MatchRegexp(`(?m)^PagesInSSD\s+256$`))
	})

	It("should reject an unknown output format", func() {
		_, err := execute("geometry", "-o", "xml")
		Expect(err).To(MatchError(ContainSubstring("unknown output format")))
	})

	It("should run an overwrite workload and keep the tables consistent", func() {
		s := run("--pattern", "overwrite", "--ops", "500", "--size", "8",
			"--seed", "3", "--check")

		Expect(s.Pattern).To(Equal("overwrite"))
		Expect(s.Requests).To(BeNumerically(">", 0))
		Expect(s.Report.WriteCount).To(BeNumerically(">", 0))
		Expect(s.Report.GCCount).To(BeNumerically(">", 0))
		Expect(s.Report.Failed).To(BeEmpty())
		Expect(s.Registers).ToNot(BeEmpty())
		Expect(s.Channels).To(HaveLen(2))
	})

	It("should drive the object front end", func() {
		s := run("--pattern", "mixed", "--ops", "200", "--objects",
			"--object-pages", "4", "--check")

		Expect(s.Requests).To(Equal(200))
		Expect(s.Report.Counters.HostWrites).To(BeNumerically(">", 0))
	})

	It("should resume from a state directory", func() {
		state := filepath.Join(dir, "state")

		s := run("--pattern", "sequential", "--ops", "10", "--size", "8",
			"--state-dir", state)
		Expect(s.Report.Counters.LogicalPageWrites).To(Equal(uint64(10)))

		s = run("--pattern", "sequential", "--ops", "5", "--size", "8",
			"--state-dir", state)
		Expect(s.Report.Counters.LogicalPageWrites).To(Equal(uint64(15)))

		out, err := execute("inspect", state)
		Expect(err).ToNot(HaveOccurred())

		var res inspectResult
		Expect(json.Unmarshal([]byte(out), &res)).To(Succeed())
		Expect(res.Consistent).To(BeTrue())
		Expect(res.Report.Counters.LogicalPageWrites).To(Equal(uint64(15)))
	})

	It("should list blocks when inspecting", func() {
		state := filepath.Join(dir, "state")
		run("--pattern", "sequential", "--ops", "4", "--state-dir", state)

		out, err := execute("inspect", "--blocks", state)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(MatchRegexp(`(?m)^FLASH\s+BLOCK\s+TYPE\s+VALID\s+ERASES$`))
	})

	It("should report a corrupted state directory as an error", func() {
		state := filepath.Join(dir, "state")
		run("--pattern", "sequential", "--ops", "4", "--state-dir", state)

		d := stateful.NewDir(state)
		var inverse []uint32
		Expect(d.Load("inverse", &inverse)).To(BeTrue())
		inverse[0] = 999
		Expect(d.Save("inverse", inverse)).To(Succeed())

		var err error
		Expect(func() { _, err = execute("inspect", state) }).ToNot(Panic())
		Expect(err).To(MatchError(ContainSubstring("maps to lpn 999")))
	})

	It("should refuse to inspect a missing directory", func() {
		_, err := execute("inspect", filepath.Join(dir, "nothing"))
		Expect(err).To(MatchError(ContainSubstring("no saved state")))
	})

	It("should record the run into SQLite", func() {
		path := filepath.Join(dir, "run.sqlite3")

		s := run("--pattern", "sequential", "--ops", "20", "--record",
			"--record-file", path)
		Expect(s.Record).To(Equal(path))

		reader, err := datarecording.NewReader(path)
		Expect(err).ToNot(HaveOccurred())
		defer reader.Close()

		tables, err := reader.ListTables(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(tables).To(ContainElements(
			tracing.PageAccessTable, tracing.RequestDoneTable))

		n, err := reader.Count(context.Background(), tracing.PageAccessTable)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(20))
	})

	DescribeTable("should reject bad run options",
		func(msg string, args ...string) {
			_, err := execute(append([]string{"run"}, args...)...)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown pattern", "unknown workload pattern", "--pattern", "zipf"),
		Entry("objects with state", "cannot be combined",
			"--objects", "--state-dir", "state"),
		Entry("empty objects", "must be positive",
			"--objects", "--object-pages", "0"),
	)
})
