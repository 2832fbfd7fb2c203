package fsx

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func assertNoTemp(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "."+name+".tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomic(dir, "a.json", []byte("hello")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := WriteFileAtomic(dir, "a.json", []byte("world")); err != nil {
		t.Fatalf("覆盖写入不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.json"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "world" {
		t.Fatalf("内容不一致：%q", string(b))
	}
	assertNoTemp(t, dir, "a.json")
}

func TestWriteFileAtomicNoOverwrite_ExistingKept(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomicNoOverwrite(dir, "1.json", []byte("first")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	err := WriteFileAtomicNoOverwrite(dir, "1.json", []byte("second"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("期望 fs.ErrExist，实际：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "1.json"))
	if string(b) != "first" {
		t.Fatalf("已有文件不应被覆盖：%q", string(b))
	}
	assertNoTemp(t, dir, "1.json")
}

func TestWriteFileAtomicNoOverwrite_LostRaceReportsExist(t *testing.T) {
	dir := t.TempDir()

	// 模拟检查之后、发布之前另一个写入者抢先落盘。
	old := linkFunc
	linkFunc = func(oldpath, newpath string) error {
		if err := os.WriteFile(newpath, []byte("other"), 0o644); err != nil {
			return err
		}
		return old(oldpath, newpath)
	}
	defer func() { linkFunc = old }()

	err := WriteFileAtomicNoOverwrite(dir, "1.json", []byte("mine"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("期望 fs.ErrExist，实际：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "1.json"))
	if string(b) != "other" {
		t.Fatalf("先发布者的内容不应被覆盖：%q", string(b))
	}
}

func TestWriteFileAtomicNoOverwrite_NoHardLinksFallsBackToRename(t *testing.T) {
	dir := t.TempDir()

	old := linkFunc
	linkFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: syscall.ENOTSUP}
	}
	defer func() { linkFunc = old }()

	if err := WriteFileAtomicNoOverwrite(dir, "1.json", []byte("first")); err != nil {
		t.Fatalf("不支持硬链接时应退化为 rename：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "1.json"))
	if string(b) != "first" {
		t.Fatalf("内容不符合预期：%q", string(b))
	}
	assertNoTemp(t, dir, "1.json")

	if err := WriteFileAtomicNoOverwrite(dir, "1.json", []byte("second")); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("期望 fs.ErrExist，实际：%v", err)
	}
	b, _ = os.ReadFile(filepath.Join(dir, "1.json"))
	if string(b) != "first" {
		t.Fatalf("退化路径也不应覆盖已有文件：%q", string(b))
	}
}

func TestPublishNoOverwrite_FallbackRechecksTarget(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, ".1.json.tmp-x")
	dst := filepath.Join(dir, "1.json")
	if err := os.WriteFile(tmp, []byte("mine"), 0o644); err != nil {
		t.Fatalf("写临时文件失败：%v", err)
	}

	// 目标在预检查之后、发布之前出现。
	old := linkFunc
	linkFunc = func(oldpath, newpath string) error {
		if err := os.WriteFile(newpath, []byte("other"), 0o644); err != nil {
			return err
		}
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: syscall.EPERM}
	}
	defer func() { linkFunc = old }()

	if err := publishNoOverwrite(tmp, dst); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("期望 fs.ErrExist，实际：%v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "other" {
		t.Fatalf("先发布者的内容不应被覆盖：%q", string(b))
	}
}

func TestWriteFileAtomic_PublishFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	oldRename, oldLink := renameFunc, linkFunc
	renameFunc = func(string, string) error { return os.ErrPermission }
	linkFunc = func(string, string) error { return os.ErrPermission }
	defer func() { renameFunc, linkFunc = oldRename, oldLink }()

	if err := WriteFileAtomic(dir, "a.json", []byte("hello")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}
	if err := WriteFileAtomicNoOverwrite(dir, "b.json", []byte("hello")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("发布失败后目录应为空：%v", entries)
	}
}

func TestWriteFileAtomicNoOverwrite_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()

	// 目标路径是目录：应返回 PathTypeConflictError，而不是 fs.ErrExist。
	if err := os.Mkdir(filepath.Join(dir, "a.json"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteFileAtomicNoOverwrite(dir, "a.json", []byte("hello"))
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestSweepTemps(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, ".7.json.tmp-123")
	fresh := filepath.Join(dir, ".8.json.tmp-456")
	keep := filepath.Join(dir, "7.json")
	for _, p := range []string{stale, fresh, keep} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("写入失败：%v", err)
		}
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes 失败：%v", err)
	}

	n, err := SweepTemps(dir, 10*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("期望删除 1 个过期临时文件，实际 n=%d err=%v", n, err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("未过期的临时文件不应删除：%v", err)
	}

	n, err = SweepTemps(dir, 0)
	if err != nil || n != 1 {
		t.Fatalf("olderThan=0 应删除全部临时文件，实际 n=%d err=%v", n, err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("正式文件不应被删除：%v", err)
	}

	if n, err := SweepTemps(filepath.Join(dir, "missing"), 0); err != nil || n != 0 {
		t.Fatalf("目录不存在不应报错：n=%d err=%v", n, err)
	}
}
