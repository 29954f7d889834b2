package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

// sysytest compiles each fixture with the target compiler and compares the
// produced outputs against per-fixture golden JSON files.

type Outputs struct {
	ExitCode int               `json:"exitCode"`
	Files    map[string]string `json:"files"`
	Duration time.Duration     `json:"duration"`
}

type FileTestResult struct {
	File    string `json:"file"`
	Status  string `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string `json:"message,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

var (
	compiler       = flag.String("compiler", "./sysyc", "Path to the compiler under test.")
	testFiles      = flag.String("test-files", "testdata/*.sy", "Glob pattern(s) for source fixtures (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Generate a golden .json file for one source file.")
	outputJSON     = flag.String("output", ".test_results.json", "JSON report path.")
	jobs           = flag.Int("j", 4, "Parallel test jobs.")
	verbose        = flag.Bool("v", false, "Verbose logging.")
)

// Outputs the compiler may produce; only existing ones are captured.
var capturedFiles = []string{
	"tree.txt", "table.txt", "symbol.txt", "error.txt",
	"ir.txt", "testfilei_opt_after.txt", "mips.txt",
}

const (
	cRed   = "\x1b[91m"
	cGreen = "\x1b[92m"
	cCyan  = "\x1b[96m"
	cNone  = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	if *generateGolden != "" {
		handleGenerateGolden(*generateGolden)
		return
	}
	handleRunSuite()
}

func goldenPath(sourceFile string) string {
	return filepath.Join(filepath.Dir(sourceFile), "."+filepath.Base(sourceFile)+".json")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func compileOne(sourceFile string) (*Outputs, error) {
	tempDir, err := os.MkdirTemp("", "sysytest-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	src, err := os.ReadFile(sourceFile)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(tempDir, "testfile.txt"), src, 0644); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(*compiler)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	cmd := exec.Command(abs)
	cmd.Dir = tempDir
	_ = cmd.Run()

	out := &Outputs{Files: make(map[string]string), Duration: time.Since(start)}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	for _, name := range capturedFiles {
		if data, err := os.ReadFile(filepath.Join(tempDir, name)); err == nil {
			out.Files[name] = string(data)
		}
	}
	return out, nil
}

func handleGenerateGolden(sourceFile string) {
	result, err := compileOne(sourceFile)
	if err != nil {
		log.Fatalf("%s[ERROR]%s could not compile %s: %v", cRed, cNone, sourceFile, err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s marshal golden: %v", cRed, cNone, err)
	}
	if err := os.WriteFile(goldenPath(sourceFile), data, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s write golden: %v", cRed, cNone, err)
	}
	log.Printf("%s[OK]%s golden file written: %s", cGreen, cNone, goldenPath(sourceFile))
}

func testFile(file string) *FileTestResult {
	golden := goldenPath(file)
	goldenData, err := os.ReadFile(golden)
	if err != nil {
		return &FileTestResult{File: file, Status: "SKIP", Message: "no golden file; run with -generate-golden"}
	}
	var expected Outputs
	if err := json.Unmarshal(goldenData, &expected); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("bad golden file: %v", err)}
	}

	actual, err := compileOne(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
	}

	var diffs strings.Builder
	if expected.ExitCode != actual.ExitCode {
		fmt.Fprintf(&diffs, "exit code: want %d, got %d\n", expected.ExitCode, actual.ExitCode)
	}
	names := make([]string, 0, len(expected.Files))
	for name := range expected.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if d := cmp.Diff(expected.Files[name], actual.Files[name]); d != "" {
			fmt.Fprintf(&diffs, "%s mismatch:\n%s", name, d)
		}
	}
	for name := range actual.Files {
		if _, ok := expected.Files[name]; !ok {
			fmt.Fprintf(&diffs, "unexpected output file %s\n", name)
		}
	}

	if diffs.Len() > 0 {
		return &FileTestResult{File: file, Status: "FAIL", Message: "output mismatch", Diff: diffs.String()}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: "all outputs match"}
}

func handleRunSuite() {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s bad glob pattern(s): %v", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("no test files found")
		return
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file)
			}
		}()
	}

	// identical fixtures are only compiled once
	seenHashes := make(map[string]string)
	for _, file := range files {
		hash, err := hashFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
			continue
		}
		if first, seen := seenHashes[hash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "content identical to " + first}
			continue
		}
		seenHashes[hash] = file
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	var results []*FileTestResult
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })

	var passed, failed, skipped, errored int
	for _, r := range results {
		switch r.Status {
		case "PASS":
			passed++
			if *verbose {
				fmt.Printf("[%sPASS%s] %s%s%s\n", cGreen, cNone, cCyan, r.File, cNone)
			}
		case "FAIL":
			failed++
			fmt.Printf("[%sFAIL%s] %s%s%s: %s\n%s", cRed, cNone, cCyan, r.File, cNone, r.Message, r.Diff)
		case "SKIP":
			skipped++
		case "ERROR":
			errored++
			fmt.Printf("[%sERROR%s] %s: %s\n", cRed, cNone, r.File, r.Message)
		}
	}
	fmt.Printf("%d passed, %d failed, %d skipped, %d errored, %d total\n",
		passed, failed, skipped, errored, len(results))

	report := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		report[r.File] = r
	}
	if data, err := json.MarshalIndent(report, "", "  "); err == nil {
		_ = os.WriteFile(*outputJSON, data, 0644)
	}

	if failed > 0 || errored > 0 {
		os.Exit(1)
	}
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var all []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			if !seen[file] {
				all = append(all, file)
				seen[file] = true
			}
		}
	}
	return all, nil
}
