package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"congestion/internal/congestion/metrics"
	"congestion/internal/congestion/persistence"
	"congestion/internal/congestion/record"
	"congestion/internal/congestion/report"
)

// fixedSampler reports 2 MiB heap and 3 MiB RSS, or a probe failure.
func fixedSampler(rssErr error) metrics.Sampler {
	return metrics.Sampler{
		Heap: func() uint64 { return 2 << 20 },
		RSS: func() (uint64, error) {
			if rssErr != nil {
				return 0, rssErr
			}
			return 3 << 20, nil
		},
	}
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return p
}

// hourLine builds an 18-field 1-hour line.
func hourLine(ts, ct string) string {
	f := make([]string, 18)
	for i := range f {
		f[i] = "x"
	}
	f[3], f[17] = ts, ct
	return strings.Join(f, ",")
}

func entries(t *testing.T, m persistence.Map) map[int64]map[string]string {
	t.Helper()
	c := m.Scan(context.Background())
	defer c.Close()
	out := map[int64]map[string]string{}
	for c.Next() {
		out[c.Entry().Key] = c.Entry().Fields
	}
	if err := c.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestRun_LoadsRecordsAndWritesReport(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "header\nA\t2024-01-01\tx\t5\n")
	store := persistence.NewMemoryStore(2)
	r := &Runner{Store: store, Sampler: fixedSampler(nil), Sink: report.NewSink(dir, nil)}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}

	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Decoded != 1 || res.Keys != 1 || res.StoreSize != 1 || res.Skipped {
		t.Fatalf("result = %+v", res)
	}
	if res.Row.Operation != "5min" || res.Row.UsedKB != 2048 || res.Row.ResidentKB != 3072 {
		t.Fatalf("row = %+v", res.Row)
	}
	m, ok, _ := store.Map(context.Background(), record.FiveMinuteDataset)
	if !ok {
		t.Fatalf("map not created")
	}
	got := entries(t, m)
	if got[1]["offer_date"] != "2024-01-01" || got[1]["offer_hour"] != "5" {
		t.Fatalf("entry at key 1 = %v", got[1])
	}
	rep, err := os.ReadFile(filepath.Join(dir, "5min_result.csv"))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(rep)), "\n")
	if len(lines) != 2 || lines[0] != report.Header || !strings.HasPrefix(lines[1], "5min,") || !strings.HasSuffix(lines[1], ",2048,3072") {
		t.Fatalf("report = %q", string(rep))
	}
}

func TestRun_KeysCountOnlyDecodedRecords(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"h",
		hourLine("2024-01-01 00:00", "1.5"),
		"too,short,line,1,2,3,4,5,6,7",       // malformed
		hourLine("2024-01-01 01:00", "oops"), // invalid number
		hourLine("2024-01-01 02:00", ""),     // empty numeric decodes to zero
		hourLine("2024-01-01 03:00", "2.25"),
	}, "\n") + "\n"
	src := writeSource(t, dir, "1hour.csv", content)
	store := persistence.NewMemoryStore(3)

	var rejected []*record.DecodeError
	r := &Runner{
		Store:       store,
		Sampler:     fixedSampler(nil),
		OnLineError: func(_ record.Binding, de *record.DecodeError) { rejected = append(rejected, de) },
	}
	b := record.Binding{Name: record.OneHourDataset, Source: src, Variant: record.OneHour, Report: "1hour_result.csv"}
	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Decoded != 3 || res.Failed != 2 || res.Keys != 3 || res.StoreSize != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(rejected) != 2 || rejected[0].Kind != record.MalformedLine || rejected[1].Kind != record.InvalidNumber {
		t.Fatalf("rejected = %+v", rejected)
	}
	if rejected[0].Line != "too,short,line,1,2,3,4,5,6,7" {
		t.Fatalf("raw line not carried: %q", rejected[0].Line)
	}

	m, _, _ := store.Map(context.Background(), record.OneHourDataset)
	got := entries(t, m)
	want := map[int64]string{1: "1.5", 2: "0", 3: "2.25"}
	for k, ct := range want {
		if got[k]["congestion_time"] != ct {
			t.Fatalf("key %d congestion_time = %q want %q (all: %v)", k, got[k]["congestion_time"], ct, got)
		}
	}
	if got[2]["time"] != "2024-01-01 02:00" {
		t.Fatalf("key 2 = %v", got[2])
	}
}

func TestRun_DefaultLineErrorIsLogged(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nonly\tthree\tfields\n")
	logger, hook := test.NewNullLogger()
	r := &Runner{Store: persistence.NewMemoryStore(1), Sampler: fixedSampler(nil), Logger: logger}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	if _, err := r.Run(context.Background(), b); err != nil {
		t.Fatalf("run: %v", err)
	}
	var found bool
	for _, e := range hook.AllEntries() {
		if e.Data["action"] == "decode_line" && e.Data["line"] == "only\tthree\tfields" && e.Level == logrus.WarnLevel {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejected line not logged with raw text")
	}
}

func TestRun_MissingSourceYieldsZeroRow(t *testing.T) {
	dir := t.TempDir()
	logger, hook := test.NewNullLogger()
	r := &Runner{Store: persistence.NewMemoryStore(1), Sampler: fixedSampler(nil), Sink: report.NewSink(dir, nil), Logger: logger}
	b := record.Binding{Name: record.OneHourDataset, Source: filepath.Join(dir, "absent.csv"), Variant: record.OneHour, Report: "1hour_result.csv"}

	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("missing source must not be an error: %v", err)
	}
	if !res.Skipped || res.Row.ElapsedMillis != 0 || res.Row.UsedKB != 0 || res.Row.ResidentKB != 0 {
		t.Fatalf("want zero row, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "1hour_result.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no report should be written for a skipped dataset")
	}
	e := hook.LastEntry()
	if e == nil || e.Data["action"] != "open_source" {
		t.Fatalf("SourceNotFound not logged: %+v", e)
	}
	if err, _ := e.Data[logrus.ErrorKey].(error); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("logged error = %v", e.Data[logrus.ErrorKey])
	}
}

func TestRun_ResidentProbeFailureReportsUnknown(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\n")
	r := &Runner{Store: persistence.NewMemoryStore(1), Sampler: fixedSampler(errors.New("ps: not found")), Sink: report.NewSink(dir, nil)}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Row.ResidentKB != metrics.UnknownKB {
		t.Fatalf("resident = %d want -1", res.Row.ResidentKB)
	}
	rep, _ := os.ReadFile(filepath.Join(dir, "5min_result.csv"))
	if !strings.HasSuffix(strings.TrimSpace(string(rep)), ",2048,-1") {
		t.Fatalf("report = %q", string(rep))
	}
}

func TestRun_PutFailureAbortsDataset(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\nB\td\tx\t2\n")
	store := persistence.NewMemoryStore(1)
	store.PutErr = errors.New("cluster unavailable")
	r := &Runner{Store: store, Sampler: fixedSampler(nil), Sink: report.NewSink(dir, nil)}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	res, err := r.Run(context.Background(), b)
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("want ErrStoreWriteFailed, got %v", err)
	}
	if res.Keys != 0 {
		t.Fatalf("failed put must not consume a key: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "5min_result.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("aborted dataset must not write a report")
	}
}

func TestRun_ReportFailureDoesNotFailLoad(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\n")
	r := &Runner{Store: persistence.NewMemoryStore(1), Sampler: fixedSampler(nil), Sink: report.NewSink(filepath.Join(dir, "nope"), nil)}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	res, err := r.Run(context.Background(), b)
	if err != nil || res.Keys != 1 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestRun_SizeMismatchWarns(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\n")
	store := persistence.NewMemoryStore(1)
	m, _ := store.GetOrCreateMap(context.Background(), record.FiveMinuteDataset)
	// Leftover data from an earlier run with more records.
	_ = m.Put(context.Background(), 99, map[string]string{"offer_date": "old", "offer_hour": "0"})

	logger, hook := test.NewNullLogger()
	r := &Runner{Store: store, Sampler: fixedSampler(nil), Logger: logger}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("mismatch must be non-fatal: %v", err)
	}
	if res.StoreSize != 2 || res.Decoded != 1 {
		t.Fatalf("res = %+v", res)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Data["action"] == "map_size" && e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("size mismatch not warned")
	}
}

func TestRun_LogsStoreSizeAndHeader(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "offer_name\toffer_date\tx\toffer_hour\nA\td1\tx\t1\nB\td2\tx\t2\n")
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := &Runner{Store: persistence.NewMemoryStore(2), Sampler: fixedSampler(nil), Logger: logger}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	res, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.StoreSize != 2 || res.Decoded != 2 {
		t.Fatalf("res = %+v", res)
	}
	var sized, header bool
	for _, e := range hook.AllEntries() {
		switch e.Data["action"] {
		case "map_size":
			if e.Level != logrus.InfoLevel || e.Data["size"] != int64(2) || e.Data["decoded"] != int64(2) {
				t.Fatalf("map_size entry = %v %v", e.Level, e.Data)
			}
			sized = true
		case "read_header":
			if e.Data["header"] != "offer_name\toffer_date\tx\toffer_hour" {
				t.Fatalf("header = %v", e.Data["header"])
			}
			header = true
		}
	}
	if !sized {
		t.Fatalf("store size not logged when counts match")
	}
	if !header {
		t.Fatalf("source header not logged")
	}
}

func TestRun_DumpAfterLoad(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td1\tx\t1\nB\td2\tx\t2\n")
	logger, hook := test.NewNullLogger()
	r := &Runner{Store: persistence.NewMemoryStore(2), Sampler: fixedSampler(nil), Logger: logger, DumpAfterLoad: true}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	if _, err := r.Run(context.Background(), b); err != nil {
		t.Fatalf("run: %v", err)
	}
	var dumped int
	for _, e := range hook.AllEntries() {
		if e.Data["action"] == "dump" {
			dumped++
		}
	}
	if dumped != 2 {
		t.Fatalf("dumped %d entries want 2", dumped)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Store: persistence.NewMemoryStore(1), Sampler: fixedSampler(nil)}
	b := record.Binding{Name: record.FiveMinuteDataset, Source: src, Variant: record.FiveMinute, Report: "5min_result.csv"}
	if _, err := r.Run(ctx, b); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRunAll_DatasetsAreIndependent(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		dir := t.TempDir()
		five := writeSource(t, dir, "5min.tsv", "h\nA\td\tx\t1\nB\td\tx\t2\nC\td\tx\t3\n")
		bindings := []record.Binding{
			{Name: record.FiveMinuteDataset, Source: five, Variant: record.FiveMinute, Report: "5min_result.csv"},
			{Name: record.OneHourDataset, Source: filepath.Join(dir, "missing.csv"), Variant: record.OneHour, Report: "1hour_result.csv"},
		}
		store := persistence.NewMemoryStore(2)
		r := &Runner{Store: store, Sampler: fixedSampler(nil), Sink: report.NewSink(dir, nil)}
		out := r.RunAll(context.Background(), bindings, parallel)
		if len(out) != 2 {
			t.Fatalf("parallel=%v outcomes=%d", parallel, len(out))
		}
		if out[0].Err != nil || out[0].Result.Keys != 3 {
			t.Fatalf("parallel=%v 5min outcome = %+v", parallel, out[0])
		}
		if out[1].Err != nil || !out[1].Result.Skipped || out[1].Binding.Name != record.OneHourDataset {
			t.Fatalf("parallel=%v 1hour outcome = %+v", parallel, out[1])
		}
		m, _, _ := store.Map(context.Background(), record.FiveMinuteDataset)
		got := entries(t, m)
		for k := int64(1); k <= 3; k++ {
			if _, ok := got[k]; !ok {
				t.Fatalf("parallel=%v missing key %d", parallel, k)
			}
		}
	}
}
