// Package store 把最终记录持久化到 valid/trash 两个分区。
//
// 约束：
// - 每个 AppID 至多一个记录文件（跨两个分区）；已存在即返回 ErrExists，不覆盖
// - 写入是原子的：读取方只会看到完整文件或没有文件
// - 同一进程内，“检查两个分区 + 写入”在按 AppID 分段的锁内完成
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/infra/fsx"
	"github.com/John-Robertt/steamscrape/internal/record"
)

const (
	ext = ".json"
	// 旧版布局把 trash 骨架写在 valid 目录下：<id>-trash.json
	legacyTrashSuffix = "-trash" + ext

	lockStripes = 64
)

var (
	// ErrExists 表示该 AppID 已有记录（任一分区）。对批处理而言这不是失败，而是跳过。
	ErrExists = errors.New("store: record already exists")
	// ErrNotFound 表示两个分区都没有该 AppID 的记录。
	ErrNotFound = errors.New("store: record not found")
	// ErrReadOnly 表示 Store 以只读方式打开（dry-run）。
	ErrReadOnly = errors.New("store: read-only")
)

// IOError 表示目标不可写/不可读（权限、磁盘满、目录缺失或路径类型冲突）。
// 只影响当前 AppID。
type IOError struct {
	Op    string
	AppID domain.AppID
	Path  string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s 失败（app_id=%d, path=%q）：%v", e.Op, e.AppID, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Store 是基于目录的记录存储。零值不可用，请使用 New。
type Store struct {
	ValidDir string
	TrashDir string
	ReadOnly bool

	log   *zap.Logger
	locks [lockStripes]sync.Mutex
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReadOnly 用于 dry-run：Exists/Read 正常工作，Write 返回 ErrReadOnly。
func WithReadOnly(ro bool) Option {
	return func(s *Store) { s.ReadOnly = ro }
}

func New(validDir, trashDir string, opts ...Option) *Store {
	s := &Store{
		ValidDir: filepath.Clean(strings.TrimSpace(validDir)),
		TrashDir: filepath.Clean(strings.TrimSpace(trashDir)),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path 返回 id 在 cls 分区下的文件路径。
func (s *Store) Path(id domain.AppID, cls domain.Classification) string {
	if cls == domain.ClassTrash {
		return filepath.Join(s.TrashDir, id.String()+ext)
	}
	return filepath.Join(s.ValidDir, id.String()+ext)
}

func (s *Store) legacyTrashPath(id domain.AppID) string {
	return filepath.Join(s.ValidDir, id.String()+legacyTrashSuffix)
}

// candidates 按查找顺序列出 id 可能的落盘位置。
func (s *Store) candidates(id domain.AppID) []struct {
	path string
	cls  domain.Classification
} {
	return []struct {
		path string
		cls  domain.Classification
	}{
		{s.Path(id, domain.ClassValid), domain.ClassValid},
		{s.Path(id, domain.ClassTrash), domain.ClassTrash},
		{s.legacyTrashPath(id), domain.ClassTrash},
	}
}

// Exists 报告 id 是否已有记录（valid、trash 或旧版 trash 骨架）。
// 临时文件永远不算记录。
func (s *Store) Exists(id domain.AppID) (bool, error) {
	_, _, err := s.locate(id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) locate(id domain.AppID) (string, domain.Classification, error) {
	for _, c := range s.candidates(id) {
		fi, err := os.Lstat(c.path)
		if err != nil {
			if notExist(err) {
				continue
			}
			return "", "", &IOError{Op: "stat", AppID: id, Path: c.path, Err: err}
		}
		if !fi.Mode().IsRegular() {
			return "", "", &IOError{Op: "stat", AppID: id, Path: c.path,
				Err: &fsx.PathTypeConflictError{Path: c.path, Want: "regular file", Got: fi.Mode().Type().String()}}
		}
		return c.path, c.cls, nil
	}
	return "", "", ErrNotFound
}

// notExist 把“路径上某一级不是目录”也视为不存在：这样的路径不可能有记录。
func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// Write 把记录写入其分类对应的分区，返回最终路径。
//
// 已有记录（任一分区）时返回 ErrExists，磁盘上的内容保持不变。
func (s *Store) Write(rec domain.GameRecord) (string, error) {
	if s.ReadOnly {
		return "", ErrReadOnly
	}
	if rec.AppID <= 0 {
		return "", fmt.Errorf("app_id 必须为正整数：%d", rec.AppID)
	}
	if !rec.Classification.Valid() {
		return "", fmt.Errorf("未知的分类：%q", string(rec.Classification))
	}

	data, err := record.Encode(rec)
	if err != nil {
		return "", err
	}

	mu := &s.locks[int(rec.AppID)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	if _, _, err := s.locate(rec.AppID); err == nil {
		return "", ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	path := s.Path(rec.AppID, rec.Classification)
	dir, name := filepath.Split(path)
	if err := fsx.WriteFileAtomicNoOverwrite(dir, name, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", ErrExists
		}
		return "", &IOError{Op: "write", AppID: rec.AppID, Path: path, Err: err}
	}
	s.log.Debug("记录已写入",
		zap.Int("app_id", int(rec.AppID)),
		zap.String("classification", string(rec.Classification)),
		zap.String("path", path),
	)
	return path, nil
}

// Read 读取 id 的记录。记录的分类以所在分区为准。
func (s *Store) Read(id domain.AppID) (domain.GameRecord, error) {
	path, cls, err := s.locate(id)
	if err != nil {
		return domain.GameRecord{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.GameRecord{}, &IOError{Op: "read", AppID: id, Path: path, Err: err}
	}
	rec, err := record.Decode(b)
	if err != nil {
		return domain.GameRecord{}, fmt.Errorf("解析 %q 失败：%w", path, err)
	}
	if rec.AppID == 0 {
		rec.AppID = id
	}
	rec.Classification = cls
	return rec, nil
}

// Entry 是分区里的一条记录文件。
type Entry struct {
	AppID          domain.AppID
	Classification domain.Classification
	Path           string
}

// List 列出两个分区中的全部记录文件，按 AppID 升序。
// 文件名不是 <id>.json（或旧版 <id>-trash.json）的条目与临时文件被忽略。
func (s *Store) List() ([]Entry, error) {
	var out []Entry
	for _, part := range []struct {
		dir string
		cls domain.Classification
	}{
		{s.ValidDir, domain.ClassValid},
		{s.TrashDir, domain.ClassTrash},
	} {
		entries, err := os.ReadDir(part.dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &IOError{Op: "list", Path: part.dir, Err: err}
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || fsx.IsTempName(name) || !strings.HasSuffix(name, ext) {
				continue
			}
			cls := part.cls
			base := strings.TrimSuffix(name, ext)
			if part.cls == domain.ClassValid && strings.HasSuffix(name, legacyTrashSuffix) {
				cls = domain.ClassTrash
				base = strings.TrimSuffix(name, legacyTrashSuffix)
			}
			n, err := strconv.Atoi(base)
			if err != nil || n <= 0 {
				continue
			}
			out = append(out, Entry{AppID: domain.AppID(n), Classification: cls, Path: filepath.Join(part.dir, name)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out, nil
}

// Sweep 清理两个分区中早于 olderThan 的临时文件（上次进程中断遗留）。
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	if s.ReadOnly {
		return 0, nil
	}
	total := 0
	var errs []error
	for _, dir := range []string{s.ValidDir, s.TrashDir} {
		n, err := fsx.SweepTemps(dir, olderThan)
		total += n
		if err != nil {
			errs = append(errs, &IOError{Op: "sweep", Path: dir, Err: err})
		}
	}
	if total > 0 {
		s.log.Info("已清理中断遗留的临时文件", zap.Int("count", total))
	}
	return total, errors.Join(errs...)
}
