package chunk

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Coordinate identifies a single world chunk by its column position. Chunks
// are fixed-size columns of the voxel world, so (cx, cz) is enough to address
// one; the vertical axis is never sharded.
type Coordinate struct {
	CX int32 `json:"cx"`
	CZ int32 `json:"cz"`
}

// Key returns the canonical storage key for this coordinate, e.g. "6:-13".
func (c Coordinate) Key() string {
	return strconv.FormatInt(int64(c.CX), 10) + ":" + strconv.FormatInt(int64(c.CZ), 10)
}

func (c Coordinate) String() string {
	return c.Key()
}

// ParseKey parses a canonical chunk key back into a Coordinate. A malformed
// key is a recoverable error; callers are expected to skip the offending
// entry rather than abort.
func ParseKey(key string) (Coordinate, error) {
	cxStr, czStr, found := strings.Cut(key, ":")
	if !found {
		return Coordinate{}, eris.Errorf("malformed chunk key %q", key)
	}
	cx, err := strconv.ParseInt(cxStr, 10, 32)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "malformed chunk key %q", key)
	}
	cz, err := strconv.ParseInt(czStr, 10, 32)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "malformed chunk key %q", key)
	}
	return Coordinate{CX: int32(cx), CZ: int32(cz)}, nil
}
