package call

import "github.com/cespare/xxhash/v2"

// UID maps a user id to a stable positive 31-bit transport uid. Zero is reserved
// by the media layer and never returned. Two users may collide; the space is
// large enough that this is accepted.
func UID(userID string) uint32 {
	uid := uint32(xxhash.Sum64String(userID) & 0x7fffffff)
	if uid == 0 {
		return 1
	}
	return uid
}
