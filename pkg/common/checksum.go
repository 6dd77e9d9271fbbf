package common

import "hash/crc32"

// castagnoliTable backs every checksum_crc32c field in the on-disk formats:
// block headers, WAL records, journal entries, shard metadata.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the Castagnoli CRC32 of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// VerifyCRC32C reports whether data's CRC32C matches want.
func VerifyCRC32C(data []byte, want uint32) bool {
	return CRC32C(data) == want
}
