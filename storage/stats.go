package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	Bucket       string
	Prefix       string
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	TypeStats    map[string]int64
}

// Summarize 汇总对象列表
func Summarize(bucket, prefix string, objects []ObjectInfo) *BucketStats {
	stats := &BucketStats{Bucket: bucket, Prefix: prefix, TypeStats: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		stats.TypeStats[inferKind(obj.Key)]++
	}
	return stats
}

// ListWithStats lists prefix and summarizes the result in one call.
func ListWithStats(ctx context.Context, store Store, bucket, prefix string) ([]ObjectInfo, *BucketStats, error) {
	objects, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, Summarize(bucket, prefix, objects), nil
}

// DeletePrefix 删除前缀下的所有对象，返回删除数量
func DeletePrefix(ctx context.Context, store Store, bucket, prefix string) (int, error) {
	objects, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	if err := store.Delete(ctx, bucket, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// PrintStats 打印存储桶状态报告
func PrintStats(w io.Writer, stats *BucketStats, objects []ObjectInfo) {
	fmt.Fprintf(w, "📊 存储桶状态报告: %s\n", stats.Bucket)
	if stats.Prefix != "" {
		fmt.Fprintf(w, "🔍 前缀过滤: %s\n", stats.Prefix)
	}
	fmt.Fprintf(w, "📝 总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "💾 总存储大小: %s\n", FormatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "🕒 最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	kinds := make([]string, 0, len(stats.TypeStats))
	for k := range stats.TypeStats {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "   %s: %d 个文件\n", k, stats.TypeStats[k])
	}

	if len(objects) == 0 {
		return
	}
	fmt.Fprintln(w, "📋 文件列表:")
	for _, obj := range objects {
		fmt.Fprintf(w, "  ├─ %s (%s, %s)\n", obj.Key, FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
	}
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// inferKind 从文件名推断内容类型
func inferKind(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".mkv":
		return "video"
	default:
		return "other"
	}
}
