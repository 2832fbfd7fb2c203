// Package fsx 提供原子文件写入：同目录临时文件 + fsync + 发布（rename 或 link）。
//
// 不变量：最终路径上要么没有文件，要么是完整内容；崩溃只可能留下 "."+name+".tmp-*" 临时文件，
// 它们永远不会被当作记录，可由 SweepTemps 清理。
package fsx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// 通过可替换的函数指针，让测试能稳定模拟发布阶段的失败（相当于进程在 rename 前中断）。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

const tempMarker = ".tmp-"

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFileAtomic 在 dir 下原子写入 name；目标已存在时覆盖（用于 report.json 等内部状态）。
func WriteFileAtomic(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644, true)
}

// WriteFileAtomicNoOverwrite 在 dir 下原子写入 name；目标已存在时返回 fs.ErrExist，且不改动已有文件。
//
// 发布使用 hard link：link 在目标存在时由内核拒绝，不存在“检查后被别人抢先写入”的窗口。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if err := checkTarget(dst); err != nil {
		return err
	}
	return writeFileAtomic(dir, name, data, 0o644, false)
}

func checkTarget(dst string) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return fs.ErrExist
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode, replace bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 同目录临时文件，前缀带 '.'，且名字不以 .json 结尾，不会被当作记录。
	tmp, err := os.CreateTemp(dir, "."+name+tempMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if replace {
		err = renameFunc(tmpName, dst)
	} else {
		err = publishNoOverwrite(tmpName, dst)
	}
	if err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

// publishNoOverwrite 把临时文件发布到 dst；dst 已存在时返回 fs.ErrExist。
// 临时文件由调用方的 defer 删除。
//
// 文件系统不支持硬链接（exFAT、部分网络挂载）时退化为“检查 + rename”：
// 同进程内的写入者由调用方的锁串行化，跨进程时只剩检查与 rename 之间的窗口。
func publishNoOverwrite(tmpName, dst string) error {
	err := linkFunc(tmpName, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		if cerr := checkTarget(dst); cerr != nil && !errors.Is(cerr, fs.ErrExist) {
			return cerr
		}
		return fs.ErrExist
	}
	if linkUnsupported(err) {
		if cerr := checkTarget(dst); cerr != nil {
			return cerr
		}
		return renameFunc(tmpName, dst)
	}
	return err
}

func linkUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, errors.ErrUnsupported)
}

// IsTempName 报告 name 是否为 WriteFileAtomic* 产生的临时文件名。
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}

// SweepTemps 删除 dir 下修改时间早于 olderThan 的临时文件，返回删除数量。
//
// olderThan 为 0 时删除全部临时文件；dir 不存在不是错误。
// 只处理 dir 的直接子项，不递归。
func SweepTemps(dir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	n := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !IsTempName(e.Name()) {
			continue
		}
		if olderThan > 0 {
			fi, err := e.Info()
			if err != nil || fi.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
