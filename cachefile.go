package modcache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
)

// Single-file record layout:
//
//	offset 0    : ASCII "d3n0l4nd"  (8 bytes, magic)
//	offset 8    : metadata_len      (4 bytes, little-endian u32)
//	offset 12   : content_len       (4 bytes, little-endian u32)
//	offset 16   : metadata_json     (metadata_len bytes, UTF-8)
//	offset 16+M : content           (content_len bytes, raw)
const cacheFileMagic = "d3n0l4nd"

const cacheFileHeaderLen = len(cacheFileMagic) + 8

// legacyMetadataSuffix is the sidecar extension of the older two-file
// layout. When a record fails to parse and this sibling exists, both
// files are deleted so the format cannot flip-flop on downgrades.
const legacyMetadataSuffix = ".metadata.json"

func writeCacheFile(env Env, path string, metadata *CachedURLMetadata, content []byte) error {
	serialized, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, cacheFileHeaderLen+len(serialized)+len(content))
	buf = append(buf, cacheFileMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(serialized)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(content)))
	buf = append(buf, serialized...)
	buf = append(buf, content...)
	return env.AtomicWriteFile(path, buf)
}

// readCacheFile reads a whole record. It fails soft, returning (nil, nil)
// on a missing file, a wrong magic, a truncated record, or metadata that
// does not deserialise.
func readCacheFile(env Env, path string) (*CacheEntry, error) {
	data, err := env.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	if len(data) < cacheFileHeaderLen || string(data[:len(cacheFileMagic)]) != cacheFileMagic {
		return nil, migrateLegacyCacheFile(env, path)
	}
	metadataLen := int(binary.LittleEndian.Uint32(data[len(cacheFileMagic):]))
	contentLen := int(binary.LittleEndian.Uint32(data[len(cacheFileMagic)+4:]))
	if len(data) != cacheFileHeaderLen+metadataLen+contentLen {
		return nil, migrateLegacyCacheFile(env, path)
	}

	var metadata CachedURLMetadata
	serialized := data[cacheFileHeaderLen : cacheFileHeaderLen+metadataLen]
	if err := json.Unmarshal(serialized, &metadata); err != nil {
		return nil, migrateLegacyCacheFile(env, path)
	}
	return &CacheEntry{
		Metadata: metadata,
		Content:  data[cacheFileHeaderLen+metadataLen:],
	}, nil
}

// readCacheFileMetadata reads only the metadata JSON of a record, skipping
// the content section after validating the total length. It shares the
// fail-soft behaviour of readCacheFile and returns nil when absent.
func readCacheFileMetadata(env Env, path string) ([]byte, error) {
	f, err := env.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var header [16]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, migrateLegacyCacheFile(env, path)
	}
	if string(header[:len(cacheFileMagic)]) != cacheFileMagic {
		return nil, migrateLegacyCacheFile(env, path)
	}
	metadataLen := int(binary.LittleEndian.Uint32(header[len(cacheFileMagic):]))
	contentLen := int(binary.LittleEndian.Uint32(header[len(cacheFileMagic)+4:]))

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(cacheFileHeaderLen+metadataLen+contentLen) {
		return nil, migrateLegacyCacheFile(env, path)
	}

	serialized := make([]byte, metadataLen)
	if _, err := io.ReadFull(f, serialized); err != nil {
		return nil, migrateLegacyCacheFile(env, path)
	}
	if !json.Valid(serialized) {
		return nil, migrateLegacyCacheFile(env, path)
	}
	return serialized, nil
}

// migrateLegacyCacheFile deletes a record that failed to parse together
// with its two-file-layout sidecar, when one exists. The deletion is
// silent; the caller reports the record as absent either way.
func migrateLegacyCacheFile(env Env, path string) error {
	if env.IsFile(path + legacyMetadataSuffix) {
		_ = env.RemoveFile(path)
		_ = env.RemoveFile(path + legacyMetadataSuffix)
	}
	return nil
}
