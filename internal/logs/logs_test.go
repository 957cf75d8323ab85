package logs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rowforge.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTailMissingFile(t *testing.T) {
	result, err := Tail(filepath.Join(t.TempDir(), "absent.log"), TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")

	result, err := Tail(path, TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Lines, []string{"three", "four"}) {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}
	if result.Offset != int64(len("one\ntwo\nthree\nfour\n")) {
		t.Fatalf("offset should be end of file, got %d", result.Offset)
	}
}

func TestTailResumeFromOffset(t *testing.T) {
	path := writeLog(t, "one\ntwo\n")

	first, err := Tail(path, TailOptions{Offset: 0})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Lines, []string{"one", "two"}) {
		t.Fatalf("unexpected lines: %v", first.Lines)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString("three\n"); err != nil {
		t.Fatal(err)
	}
	file.Close()

	second, err := Tail(path, TailOptions{Offset: first.Offset})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(second.Lines, []string{"three"}) {
		t.Fatalf("resume should only see new lines, got %v", second.Lines)
	}
}

func TestTailLeavesPartialLine(t *testing.T) {
	path := writeLog(t, "done\npartial")

	result, err := Tail(path, TailOptions{Offset: 0})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Lines, []string{"done"}) {
		t.Fatalf("partial line should not be delivered, got %v", result.Lines)
	}
	if result.Offset != int64(len("done\n")) {
		t.Fatalf("offset should stop before the partial line, got %d", result.Offset)
	}
}

func TestTailLimitStopsEarly(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := Tail(path, TailOptions{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Lines, []string{"a", "b"}) {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}

	rest, err := Tail(path, TailOptions{Offset: result.Offset})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rest.Lines, []string{"c"}) {
		t.Fatalf("unexpected remainder: %v", rest.Lines)
	}
}

func TestTailResetsAfterTruncation(t *testing.T) {
	path := writeLog(t, "old content that was rotated away\n")

	result, err := Tail(path, TailOptions{Offset: 0})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	after, err := Tail(path, TailOptions{Offset: result.Offset})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after.Lines, []string{"fresh"}) {
		t.Fatalf("truncated file should restart from the top, got %v", after.Lines)
	}
}
